package apikey

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/aidenforge/controlplane/internal/db"
)

const apiKeyColumns = `id, user_id, key_hash, key_prefix, description, role, last_used, expires_at, created_at`

// Store provides database operations for API keys.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates an API key Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// CreateParams holds parameters for creating an API key.
type CreateParams struct {
	UserID      uuid.UUID
	KeyHash     string
	KeyPrefix   string
	Description string
	Role        string
	ExpiresAt   pgtype.Timestamptz
}

func scanRow(row pgx.Row) (Row, error) {
	var r Row
	err := row.Scan(&r.ID, &r.UserID, &r.KeyHash, &r.KeyPrefix, &r.Description, &r.Role, &r.LastUsed, &r.ExpiresAt, &r.CreatedAt)
	return r, err
}

func scanRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()
	var items []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.UserID, &r.KeyHash, &r.KeyPrefix, &r.Description, &r.Role, &r.LastUsed, &r.ExpiresAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api key rows: %w", err)
	}
	return items, nil
}

// List returns all API keys belonging to userID.
func (s *Store) List(ctx context.Context, userID uuid.UUID) ([]Row, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := s.dbtx.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	return scanRows(rows)
}

// Create inserts a new API key and returns the created row.
func (s *Store) Create(ctx context.Context, p CreateParams) (Row, error) {
	query := `INSERT INTO api_keys (user_id, key_hash, key_prefix, description, role, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING ` + apiKeyColumns

	row := s.dbtx.QueryRow(ctx, query, p.UserID, p.KeyHash, p.KeyPrefix, p.Description, p.Role, p.ExpiresAt)
	return scanRow(row)
}

// Delete permanently removes an API key by ID.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM api_keys WHERE id = $1`
	tag, err := s.dbtx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetByHash looks up an API key by its SHA-256 hash. Expiry is not checked
// here; callers decide what an expired key means.
func (s *Store) GetByHash(ctx context.Context, hash string) (Row, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1`
	row := s.dbtx.QueryRow(ctx, query, hash)
	return scanRow(row)
}

// TouchLastUsed stamps last_used to now for the given key id.
func (s *Store) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE api_keys SET last_used = $2 WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("touching api key last_used: %w", err)
	}
	return nil
}
