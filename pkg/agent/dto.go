package agent

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CreateRequest is the JSON body for POST /api/v1/agents.
type CreateRequest struct {
	CharacterJSON json.RawMessage   `json:"character_json" validate:"required"`
	EnvBundle     map[string]string `json:"env_bundle"`
}

// UpdateRequest is the JSON body for PATCH /api/v1/agents/{id}. Both fields
// are optional; a nil field leaves the corresponding column untouched.
type UpdateRequest struct {
	CharacterJSON json.RawMessage   `json:"character_json"`
	EnvBundle     map[string]string `json:"env_bundle"`
}

// Response is the JSON representation of an Agent.
type Response struct {
	ID              uuid.UUID         `json:"id"`
	OwnerID         uuid.UUID         `json:"owner_id"`
	CharacterJSON   json.RawMessage   `json:"character_json"`
	EnvBundle       map[string]string `json:"env_bundle"`
	RuntimeID       *uuid.UUID        `json:"runtime_id,omitempty"`
	ExternalAgentID *string           `json:"external_agent_id,omitempty"`
	Bound           bool              `json:"bound"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ToResponse converts an Agent to its JSON DTO.
func (a *Agent) ToResponse() Response {
	return Response{
		ID:              a.ID,
		OwnerID:         a.OwnerID,
		CharacterJSON:   a.CharacterJSON,
		EnvBundle:       a.EnvBundle,
		RuntimeID:       a.RuntimeID,
		ExternalAgentID: a.ExternalAgentID,
		Bound:           a.Bound(),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}
