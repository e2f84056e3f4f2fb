package agent

import (
	"testing"

	"github.com/google/uuid"
)

func TestAgentBound(t *testing.T) {
	var a Agent
	if a.Bound() {
		t.Error("zero-value agent should not be bound")
	}

	id := uuid.New()
	a.RuntimeID = &id
	if !a.Bound() {
		t.Error("agent with RuntimeID set should be bound")
	}
}
