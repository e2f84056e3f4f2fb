package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aidenforge/controlplane/internal/db"
	"github.com/aidenforge/controlplane/pkg/ctlerrors"
)

// Store is the durable Agent store.
type Store struct {
	db db.DBTX
}

// NewStore creates a Store over any db.DBTX.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{db: dbtx}
}

const selectAgentColumns = `
	SELECT id, owner_id, character_json, env_bundle, runtime_id, external_agent_id, created_at, updated_at
	FROM agents`

// Create inserts a new Agent row.
func (s *Store) Create(ctx context.Context, ownerID uuid.UUID, characterJSON json.RawMessage, envBundle map[string]string) (*Agent, error) {
	id := uuid.New()
	envJSON, err := json.Marshal(envBundle)
	if err != nil {
		return nil, fmt.Errorf("marshalling env bundle: %w", err)
	}

	a := &Agent{ID: id, OwnerID: ownerID, CharacterJSON: characterJSON, EnvBundle: envBundle}
	err = s.db.QueryRow(ctx, `
		INSERT INTO agents (id, owner_id, character_json, env_bundle)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		id, ownerID, characterJSON, envJSON,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting agent: %w", err)
	}
	return a, nil
}

// Get loads an Agent by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Agent, error) {
	a, err := scanAgent(s.db.QueryRow(ctx, selectAgentColumns+` WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &ctlerrors.NotFoundError{Entity: "agent", ID: id.String()}
		}
		return nil, fmt.Errorf("loading agent %s: %w", id, err)
	}
	return a, nil
}

// List returns every agent belonging to ownerID. A nil ownerID lists all agents.
func (s *Store) List(ctx context.Context, ownerID *uuid.UUID) ([]*Agent, error) {
	query := selectAgentColumns
	var args []any
	if ownerID != nil {
		query += ` WHERE owner_id = $1`
		args = append(args, *ownerID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		a, err := scanAgentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountByOwner returns how many agents ownerID currently owns, for admission control.
func (s *Store) CountByOwner(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM agents WHERE owner_id = $1`, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting agents for owner %s: %w", ownerID, err)
	}
	return n, nil
}

// Update replaces character_json and/or env_bundle when non-nil.
func (s *Store) Update(ctx context.Context, id uuid.UUID, characterJSON json.RawMessage, envBundle map[string]string) (*Agent, error) {
	if characterJSON != nil {
		if _, err := s.db.Exec(ctx, `UPDATE agents SET character_json = $2, updated_at = now() WHERE id = $1`, id, characterJSON); err != nil {
			return nil, fmt.Errorf("updating agent character: %w", err)
		}
	}
	if envBundle != nil {
		envJSON, err := json.Marshal(envBundle)
		if err != nil {
			return nil, fmt.Errorf("marshalling env bundle: %w", err)
		}
		if _, err := s.db.Exec(ctx, `UPDATE agents SET env_bundle = $2, updated_at = now() WHERE id = $1`, id, envJSON); err != nil {
			return nil, fmt.Errorf("updating agent env bundle: %w", err)
		}
	}
	return s.Get(ctx, id)
}

// BindRuntime sets runtime_id (nil to detach) and optionally the external agent id.
func (s *Store) BindRuntime(ctx context.Context, id uuid.UUID, runtimeID *uuid.UUID, externalAgentID *string) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE agents SET runtime_id = $2, external_agent_id = $3, updated_at = now() WHERE id = $1`,
		id, runtimeID, externalAgentID); err != nil {
		return fmt.Errorf("binding agent %s: %w", id, err)
	}
	return nil
}

// BindRuntimeDetach clears runtime_id/external_agent_id for whichever agent
// is currently bound to runtimeID. A no-op if none is bound.
func (s *Store) BindRuntimeDetach(ctx context.Context, runtimeID uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE agents SET runtime_id = NULL, external_agent_id = NULL, updated_at = now() WHERE runtime_id = $1`,
		runtimeID); err != nil {
		return fmt.Errorf("detaching agent from runtime %s: %w", runtimeID, err)
	}
	return nil
}

// GetByRuntime returns the agent currently bound to runtimeID, if any.
func (s *Store) GetByRuntime(ctx context.Context, runtimeID uuid.UUID) (*Agent, error) {
	a, err := scanAgent(s.db.QueryRow(ctx, selectAgentColumns+` WHERE runtime_id = $1`, runtimeID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("loading agent for runtime %s: %w", runtimeID, err)
	}
	return a, nil
}

// Delete removes the Agent row.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting agent %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row pgx.Row) (*Agent, error) {
	return scanAgentRow(row)
}

func scanAgentRow(row rowScanner) (*Agent, error) {
	var (
		a         Agent
		envJSON   []byte
		runtimeID *uuid.UUID
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.CharacterJSON, &envJSON, &runtimeID, &a.ExternalAgentID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if len(envJSON) > 0 {
		if err := json.Unmarshal(envJSON, &a.EnvBundle); err != nil {
			return nil, fmt.Errorf("unmarshalling env bundle: %w", err)
		}
	}
	a.RuntimeID = runtimeID
	return &a, nil
}
