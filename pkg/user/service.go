package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/aidenforge/controlplane/internal/auth"
	"github.com/aidenforge/controlplane/internal/db"
)

// Service encapsulates user account business logic.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates a user Service backed by the given database connection.
func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), logger: logger}
}

// List returns all active users.
func (s *Service) List(ctx context.Context) ([]Response, error) {
	rows, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	items := make([]Response, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].ToResponse())
	}
	return items, nil
}

// Get returns a single user by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Response, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("getting user: %w", err)
	}
	return row.ToResponse(), nil
}

// Create hashes the password and creates a new user.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Response, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Response{}, fmt.Errorf("hashing password: %w", err)
	}
	row, err := s.store.Create(ctx, CreateUserParams{
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		Role:         req.Role,
		PasswordHash: string(hash),
	})
	if err != nil {
		return Response{}, fmt.Errorf("creating user: %w", err)
	}
	return row.ToResponse(), nil
}

// Update updates a user, re-hashing the password only if one was supplied.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (Response, error) {
	var hashPtr *string
	if req.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			return Response{}, fmt.Errorf("hashing password: %w", err)
		}
		h := string(hash)
		hashPtr = &h
	}
	row, err := s.store.Update(ctx, id, UpdateUserParams{
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		Role:         req.Role,
		PasswordHash: hashPtr,
	})
	if err != nil {
		return Response{}, fmt.Errorf("updating user: %w", err)
	}
	return row.ToResponse(), nil
}

// Deactivate soft-deletes a user.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("deactivating user: %w", err)
	}
	return nil
}

// GetUserByEmail implements auth.UserLookup for the login handler.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*auth.UserCredentials, error) {
	row, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("looking up user by email: %w", err)
	}
	if !row.IsActive {
		return nil, fmt.Errorf("user %s is deactivated", email)
	}
	return &auth.UserCredentials{
		ID:           row.ID,
		Email:        row.Email,
		DisplayName:  row.DisplayName,
		Role:         row.Role,
		PasswordHash: row.PasswordHash,
	}, nil
}
