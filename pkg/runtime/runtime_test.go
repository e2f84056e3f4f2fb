package runtime

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHasAllHandles(t *testing.T) {
	h := func(s string) *string { return &s }

	tests := []struct {
		name string
		rt   Runtime
		want bool
	}{
		{
			name: "no handles",
			rt:   Runtime{},
			want: false,
		},
		{
			name: "all four present",
			rt: Runtime{
				ServiceHandle:     h("svc"),
				TargetGroupHandle: h("tg"),
				HTTPRuleHandle:    h("http"),
				HTTPSRuleHandle:   h("https"),
			},
			want: true,
		},
		{
			name: "missing https rule",
			rt: Runtime{
				ServiceHandle:     h("svc"),
				TargetGroupHandle: h("tg"),
				HTTPRuleHandle:    h("http"),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rt.HasAllHandles(); got != tt.want {
				t.Errorf("HasAllHandles() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToResponseOmitsHandles(t *testing.T) {
	h := "handle-value"
	rt := Runtime{
		ServiceNo:     7,
		URL:           "https://runtime-7.internal",
		Started:       true,
		ServiceHandle: &h,
	}

	resp := rt.ToResponse()
	if resp.ServiceNo != 7 {
		t.Errorf("ServiceNo = %d, want 7", resp.ServiceNo)
	}
	if resp.HasAllHandles {
		t.Error("HasAllHandles should be false when only one handle is set")
	}
	if !resp.Started {
		t.Error("Started should carry through")
	}
	out, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshalling response: %v", err)
	}
	if strings.Contains(string(out), h) {
		t.Errorf("response JSON %s exposes a handle value", out)
	}
}
