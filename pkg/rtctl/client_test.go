package rtctl

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientPing(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	if err := c.Ping(context.Background(), srv.URL); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if gotPath != "/ping" {
		t.Errorf("path = %q, want /ping", gotPath)
	}
}

func TestClientControllerPing_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient()
	err := c.ControllerPing(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestClientCharacterStatusOf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/controller/character/status" {
			t.Errorf("path = %q, want /controller/character/status", r.URL.Path)
		}
		agentID := "ext-123"
		json.NewEncoder(w).Encode(CharacterStatus{Running: true, AgentID: &agentID})
	}))
	defer srv.Close()

	c := NewClient()
	status, err := c.CharacterStatusOf(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("CharacterStatusOf() error = %v", err)
	}
	if !status.Running {
		t.Error("expected Running = true")
	}
	if status.AgentID == nil || *status.AgentID != "ext-123" {
		t.Errorf("AgentID = %v, want ext-123", status.AgentID)
	}
}

func TestClientCharacterStart(t *testing.T) {
	var gotBody StartRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	req := StartRequest{CharacterJSON: json.RawMessage(`{"name":"bot"}`), Envs: map[string]string{"KEY": "VALUE"}}
	if err := c.CharacterStart(context.Background(), srv.URL, req); err != nil {
		t.Fatalf("CharacterStart() error = %v", err)
	}
	if gotBody.Envs["KEY"] != "VALUE" {
		t.Errorf("Envs[KEY] = %q, want VALUE", gotBody.Envs["KEY"])
	}
}

func TestClientCharacterStop_NoBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if body, _ := io.ReadAll(r.Body); len(body) != 0 {
			t.Errorf("body = %q, want empty", body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	if err := c.CharacterStop(context.Background(), srv.URL); err != nil {
		t.Fatalf("CharacterStop() error = %v", err)
	}
}
