// Package tasks is the hand-rolled task engine: named, idempotent,
// asynchronously-executed jobs with a four-state status record and a
// retrieval handle. No dedicated task-queue library exists anywhere in the
// retrieved corpus, so this is built on infrastructure the rest of the
// system already depends on — Redis as the work queue, Postgres as the
// durable status + record store, and a bounded worker-goroutine pool that
// blocks on the queue.
package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a registered task body.
type Kind string

const (
	KindRuntimeCreate Kind = "RuntimeCreate"
	KindRuntimeUpdate Kind = "RuntimeUpdate"
	KindRuntimeDelete Kind = "RuntimeDelete"
	KindAgentStart    Kind = "AgentStart"
)

// Status is the lifecycle of a submitted task.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// InFlight reports whether a status still represents in-progress work.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusStarted
}

// Record is a durable task entry. RuntimeID and/or AgentID are the foreign
// keys a single-flight check or the reconciler queries by.
type Record struct {
	TaskID    uuid.UUID
	Kind      Kind
	RuntimeID *uuid.UUID
	AgentID   *uuid.UUID
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Handler executes one task body. It must be safe to re-execute, so handlers
// re-fetch entities and check current state before acting rather than
// trusting the payload's snapshot. The engine itself pops each task id off
// the queue once and does not redeliver a task whose worker stopped
// mid-body.
type Handler func(ctx context.Context, rec Record) error
