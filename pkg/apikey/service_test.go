package apikey

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	raw, prefix, err := generateAPIKey()
	if err != nil {
		t.Fatalf("generateAPIKey() error = %v", err)
	}
	if !strings.HasPrefix(raw, "cp_") {
		t.Errorf("raw key %q does not start with cp_", raw)
	}
	if len(raw) != len("cp_")+64 {
		t.Errorf("raw key length = %d, want %d", len(raw), len("cp_")+64)
	}
	if prefix != raw[:10] {
		t.Errorf("prefix = %q, want first 10 chars of raw key %q", prefix, raw[:10])
	}
}

func TestGenerateAPIKeyUnique(t *testing.T) {
	raw1, _, err := generateAPIKey()
	if err != nil {
		t.Fatalf("generateAPIKey() error = %v", err)
	}
	raw2, _, err := generateAPIKey()
	if err != nil {
		t.Fatalf("generateAPIKey() error = %v", err)
	}
	if raw1 == raw2 {
		t.Error("two generated keys should not collide")
	}
}
