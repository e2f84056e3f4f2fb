package reconciler

import (
	"testing"

	"github.com/aidenforge/controlplane/pkg/agent"
	"github.com/aidenforge/controlplane/pkg/rtctl"
)

// driftDetected mirrors the drift comparison in HealthcheckRunningAgent. It
// is duplicated here rather than extracted, since the logic is only a few
// lines embedded in a method that otherwise talks to the controller and the
// task engine.
func driftDetected(status *rtctl.CharacterStatus, bound *agent.Agent) bool {
	drifted := !status.Running
	if status.Running && bound.ExternalAgentID != nil && status.AgentID != nil && *status.AgentID != *bound.ExternalAgentID {
		drifted = true
	}
	return drifted
}

func TestDriftDetected(t *testing.T) {
	extA := "ext-a"
	extB := "ext-b"

	tests := []struct {
		name   string
		status *rtctl.CharacterStatus
		bound  *agent.Agent
		want   bool
	}{
		{
			name:   "not running is drift",
			status: &rtctl.CharacterStatus{Running: false},
			bound:  &agent.Agent{ExternalAgentID: &extA},
			want:   true,
		},
		{
			name:   "running with matching external id is no drift",
			status: &rtctl.CharacterStatus{Running: true, AgentID: &extA},
			bound:  &agent.Agent{ExternalAgentID: &extA},
			want:   false,
		},
		{
			name:   "running with mismatched external id is drift",
			status: &rtctl.CharacterStatus{Running: true, AgentID: &extB},
			bound:  &agent.Agent{ExternalAgentID: &extA},
			want:   true,
		},
		{
			name:   "running with no recorded external id yet is no drift",
			status: &rtctl.CharacterStatus{Running: true, AgentID: &extA},
			bound:  &agent.Agent{ExternalAgentID: nil},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := driftDetected(tt.status, tt.bound); got != tt.want {
				t.Errorf("driftDetected() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUpdateAndDeleteThresholdOrdering(t *testing.T) {
	if deleteThreshold <= updateThreshold {
		t.Errorf("deleteThreshold (%d) must be greater than updateThreshold (%d)", deleteThreshold, updateThreshold)
	}
}
