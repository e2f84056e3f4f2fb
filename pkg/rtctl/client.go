// Package rtctl is an HTTP client for the controller that runs inside every
// provisioned runtime container: ping, character status, start, stop, read.
package rtctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to one runtime's HTTP controller.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a controller client with a 3-second request timeout,
// matching the short-poll budget the saga and reconciler rely on.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 3 * time.Second},
	}
}

// CharacterStatus is the response shape of GET /controller/character/status.
type CharacterStatus struct {
	Running bool    `json:"running"`
	AgentID *string `json:"agent_id,omitempty"`
	Msg     *string `json:"msg,omitempty"`
}

// StartRequest is the body of POST /controller/character/start.
type StartRequest struct {
	CharacterJSON json.RawMessage   `json:"character_json"`
	Envs          map[string]string `json:"envs"`
}

// CharacterRead is the response of GET /controller/character/read.
type CharacterRead struct {
	CharacterJSON json.RawMessage   `json:"character_json"`
	Envs          map[string]string `json:"envs"`
}

// Ping checks reachability of the reverse proxy in front of the container.
func (c *Client) Ping(ctx context.Context, baseURL string) error {
	return c.get(ctx, baseURL+"/ping", nil)
}

// ControllerPing checks reachability of the in-container controller itself.
func (c *Client) ControllerPing(ctx context.Context, baseURL string) error {
	return c.get(ctx, baseURL+"/controller/ping", nil)
}

// CharacterStatusOf fetches the running character's status.
func (c *Client) CharacterStatusOf(ctx context.Context, baseURL string) (*CharacterStatus, error) {
	var out CharacterStatus
	if err := c.get(ctx, baseURL+"/controller/character/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CharacterStart queues a character start. It returns as soon as the
// controller has accepted the request; it does not wait for readiness.
func (c *Client) CharacterStart(ctx context.Context, baseURL string, req StartRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshalling start request: %w", err)
	}
	return c.post(ctx, baseURL+"/controller/character/start", body, nil)
}

// CharacterStop is idempotent: it must succeed even when nothing is running.
func (c *Client) CharacterStop(ctx context.Context, baseURL string) error {
	return c.post(ctx, baseURL+"/controller/character/stop", nil, nil)
}

// CharacterRead returns the currently configured character and redacted envs.
func (c *Client) CharacterRead(ctx context.Context, baseURL string) (*CharacterRead, error) {
	var out CharacterRead
	if err := c.get(ctx, baseURL+"/controller/character/read", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, url string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling controller: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("controller returned HTTP %d for %s", resp.StatusCode, req.URL.Path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding controller response: %w", err)
	}
	return nil
}
