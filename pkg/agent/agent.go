// Package agent models an owned character definition that may be bound to
// at most one runtime, and its durable store.
package agent

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Agent is a persisted character definition plus environment bundle, owned
// by a user, optionally bound to one Runtime.
type Agent struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	CharacterJSON   json.RawMessage
	EnvBundle       map[string]string
	RuntimeID       *uuid.UUID
	ExternalAgentID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Bound reports whether the agent currently points at a runtime.
func (a *Agent) Bound() bool {
	return a.RuntimeID != nil
}
