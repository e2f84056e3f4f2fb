package apikey

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/aidenforge/controlplane/internal/auth"
	"github.com/aidenforge/controlplane/internal/db"
)

// Service encapsulates API key business logic.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates an API key Service.
func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), logger: logger}
}

// List returns all API keys belonging to userID.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]Response, error) {
	rows, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}

	items := make([]Response, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].ToResponse())
	}
	return items, nil
}

// Create generates a new API key, stores its hash, and returns the raw key once.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (CreateResponse, error) {
	raw, prefix, err := generateAPIKey()
	if err != nil {
		return CreateResponse{}, fmt.Errorf("generating api key: %w", err)
	}

	row, err := s.store.Create(ctx, CreateParams{
		UserID:      userID,
		KeyHash:     auth.HashAPIKey(raw),
		KeyPrefix:   prefix,
		Description: req.Description,
		Role:        req.Role,
		ExpiresAt:   pgtype.Timestamptz{},
	})
	if err != nil {
		return CreateResponse{}, fmt.Errorf("creating api key: %w", err)
	}

	return CreateResponse{
		Response: row.ToResponse(),
		RawKey:   raw,
	}, nil
}

// Delete permanently removes an API key.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash implements auth.APIKeyLookup for the API key authenticator.
func (s *Service) GetAPIKeyByHash(ctx context.Context, hash string) (*auth.APIKeyRecord, error) {
	row, err := s.store.GetByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", err)
	}
	rec := &auth.APIKeyRecord{
		ID:        row.ID,
		UserID:    row.UserID,
		KeyPrefix: row.KeyPrefix,
		Role:      row.Role,
	}
	if row.ExpiresAt.Valid {
		t := row.ExpiresAt.Time
		rec.ExpiresAt = &t
	}
	return rec, nil
}

// TouchAPIKeyLastUsed implements auth.APIKeyLookup. Failures are logged, not
// propagated — a missed last_used stamp must never fail authentication.
func (s *Service) TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID) {
	if err := s.store.TouchLastUsed(ctx, id); err != nil {
		s.logger.Warn("touching api key last_used", "api_key_id", id, "error", err)
	}
}

// generateAPIKey creates a random API key with prefix "cp_" and a short
// display prefix.
func generateAPIKey() (raw, prefix string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("reading random bytes: %w", err)
	}
	raw = fmt.Sprintf("cp_%x", b)
	return raw, raw[:10], nil
}
