package user

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aidenforge/controlplane/internal/db"
)

// Store provides database operations for users.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a user Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const userColumns = `id, email, display_name, password_hash, role, is_active, created_at, updated_at`

// UserRow represents a row returned from the users table.
type UserRow struct {
	ID           uuid.UUID
	Email        string
	DisplayName string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ToResponse converts a UserRow to a Response DTO, never exposing the hash.
func (u *UserRow) ToResponse() Response {
	return Response{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func scanUserRow(row pgx.Row) (UserRow, error) {
	var u UserRow
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func scanUserRows(rows pgx.Rows) ([]UserRow, error) {
	defer rows.Close()
	var items []UserRow
	for rows.Next() {
		var u UserRow
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return items, nil
}

// List returns all active users ordered by display name.
func (s *Store) List(ctx context.Context) ([]UserRow, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE is_active = true ORDER BY display_name`
	rows, err := s.dbtx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return scanUserRows(rows)
}

// Get returns a single user by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (UserRow, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	row := s.dbtx.QueryRow(ctx, query, id)
	return scanUserRow(row)
}

// GetByEmail returns a single user by email, active or not — callers decide
// what an inactive account means for login.
func (s *Store) GetByEmail(ctx context.Context, email string) (UserRow, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	row := s.dbtx.QueryRow(ctx, query, email)
	return scanUserRow(row)
}

// CreateUserParams holds parameters for creating a user.
type CreateUserParams struct {
	Email        string
	DisplayName  string
	Role         string
	PasswordHash string
}

// Create inserts a new user.
func (s *Store) Create(ctx context.Context, p CreateUserParams) (UserRow, error) {
	query := `INSERT INTO users (email, display_name, role, password_hash)
	VALUES ($1, $2, $3, $4)
	RETURNING ` + userColumns
	row := s.dbtx.QueryRow(ctx, query, p.Email, p.DisplayName, p.Role, p.PasswordHash)
	return scanUserRow(row)
}

// UpdateUserParams holds parameters for updating a user. PasswordHash is a
// pointer: nil means leave the stored hash unchanged.
type UpdateUserParams struct {
	Email        string
	DisplayName  string
	Role         string
	PasswordHash *string
}

// Update updates the editable fields and returns the updated row.
func (s *Store) Update(ctx context.Context, id uuid.UUID, p UpdateUserParams) (UserRow, error) {
	if p.PasswordHash != nil {
		query := `UPDATE users
		SET email = $2, display_name = $3, role = $4, password_hash = $5, updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns
		row := s.dbtx.QueryRow(ctx, query, id, p.Email, p.DisplayName, p.Role, *p.PasswordHash)
		return scanUserRow(row)
	}

	query := `UPDATE users
	SET email = $2, display_name = $3, role = $4, updated_at = now()
	WHERE id = $1
	RETURNING ` + userColumns
	row := s.dbtx.QueryRow(ctx, query, id, p.Email, p.DisplayName, p.Role)
	return scanUserRow(row)
}

// Deactivate soft-deletes a user by setting is_active to false.
func (s *Store) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE users SET is_active = false, updated_at = now() WHERE id = $1`
	tag, err := s.dbtx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivating user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
