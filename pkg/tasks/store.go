package tasks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aidenforge/controlplane/internal/db"
)

// Store is the durable task_records + task_status store.
type Store struct {
	db db.DBTX
}

// NewStore creates a Store over any db.DBTX.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{db: dbtx}
}

// Insert persists a new task record and its initial PENDING status.
func (s *Store) Insert(ctx context.Context, taskID uuid.UUID, kind Kind, runtimeID, agentID *uuid.UUID, payload []byte) error {
	if _, err := s.db.Exec(ctx, `
		INSERT INTO task_records (task_id, kind, runtime_id, agent_id, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		taskID, string(kind), runtimeID, agentID, payload); err != nil {
		return fmt.Errorf("inserting task record %s: %w", taskID, err)
	}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO task_status (task_id, status, updated_at) VALUES ($1, $2, now())`,
		taskID, string(StatusPending)); err != nil {
		return fmt.Errorf("inserting task status %s: %w", taskID, err)
	}
	return nil
}

// SetStatus updates the status row for a task. Absence of a row is treated
// by callers as PENDING, so this never needs to insert-on-conflict for a
// task that was already Insert-ed.
func (s *Store) SetStatus(ctx context.Context, taskID uuid.UUID, status Status) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE task_status SET status = $2, updated_at = now() WHERE task_id = $1`,
		taskID, string(status)); err != nil {
		return fmt.Errorf("setting status for task %s: %w", taskID, err)
	}
	return nil
}

// GetStatus returns the current status, or PENDING if no status row exists
// (Insert writes one at submission, so this covers unknown task ids).
func (s *Store) GetStatus(ctx context.Context, taskID uuid.UUID) (Status, error) {
	var status string
	err := s.db.QueryRow(ctx, `SELECT status FROM task_status WHERE task_id = $1`, taskID).Scan(&status)
	if err == pgx.ErrNoRows {
		return StatusPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("getting status for task %s: %w", taskID, err)
	}
	return Status(status), nil
}

// Get loads a task record by id.
func (s *Store) Get(ctx context.Context, taskID uuid.UUID) (*Record, error) {
	var (
		rec     Record
		kind    string
		payload []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT task_id, kind, runtime_id, agent_id, payload, created_at
		FROM task_records WHERE task_id = $1`, taskID,
	).Scan(&rec.TaskID, &kind, &rec.RuntimeID, &rec.AgentID, &payload, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("loading task record %s: %w", taskID, err)
	}
	rec.Kind = Kind(kind)
	rec.Payload = payload
	return &rec, nil
}

// LatestStatusByRuntime returns the status of the most recent task record
// of any kind for runtimeID (the three runtime lifecycle kinds and
// AgentStart alike), or "" if none exists. They all share one guard per the
// design's resolved open question on single-flight scope.
func (s *Store) LatestStatusByRuntime(ctx context.Context, runtimeID uuid.UUID) (Status, bool, error) {
	return s.latestStatus(ctx, `WHERE runtime_id = $1 ORDER BY created_at DESC LIMIT 1`, runtimeID)
}

// LatestStatusByKindAndAgent returns the status of the most recent task of
// the given kind for agentID.
func (s *Store) LatestStatusByKindAndAgent(ctx context.Context, kind Kind, agentID uuid.UUID) (Status, bool, error) {
	return s.latestStatus(ctx, `WHERE kind = $2 AND agent_id = $1 ORDER BY created_at DESC LIMIT 1`, agentID, string(kind))
}

// LatestStatusByKindAndRuntime returns the status of the most recent task of
// the given kind for runtimeID.
func (s *Store) LatestStatusByKindAndRuntime(ctx context.Context, kind Kind, runtimeID uuid.UUID) (Status, bool, error) {
	return s.latestStatus(ctx, `WHERE kind = $2 AND runtime_id = $1 ORDER BY created_at DESC LIMIT 1`, runtimeID, string(kind))
}

// LatestStatusByKindAgentAndRuntime returns the status of the most recent
// AgentStart task matching both agentID and runtimeID, for polling a
// specific start attempt rather than whichever one is newest for the agent.
func (s *Store) LatestStatusByKindAgentAndRuntime(ctx context.Context, kind Kind, agentID, runtimeID uuid.UUID) (Status, bool, error) {
	return s.latestStatus(ctx,
		`WHERE kind = $3 AND agent_id = $1 AND runtime_id = $2 ORDER BY created_at DESC LIMIT 1`,
		agentID, runtimeID, string(kind))
}

func (s *Store) latestStatus(ctx context.Context, whereClause string, args ...any) (Status, bool, error) {
	query := `
		SELECT ts.status
		FROM task_records tr
		JOIN task_status ts ON ts.task_id = tr.task_id
		` + whereClause

	var status string
	err := s.db.QueryRow(ctx, query, args...).Scan(&status)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying latest task status: %w", err)
	}
	return Status(status), true, nil
}
