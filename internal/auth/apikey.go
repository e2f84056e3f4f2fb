package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// APIKeyRecord is the subset of a stored API key an authenticator needs.
type APIKeyRecord struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	KeyPrefix string
	Role      string
	ExpiresAt *time.Time
}

// APIKeyLookup is implemented by the API key store. Kept as an interface here
// so the auth package has no dependency on any particular storage package.
type APIKeyLookup interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (*APIKeyRecord, error)
	TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID)
}

// APIKeyAuthenticator validates API keys against the database.
type APIKeyAuthenticator struct {
	Store APIKeyLookup
}

// APIKeyResult holds the resolved identity data from an API key lookup.
type APIKeyResult struct {
	APIKeyID  uuid.UUID
	UserID    uuid.UUID
	KeyPrefix string
	Role      string
}

// Authenticate hashes the raw key, looks it up, and validates expiration.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, rawKey string) (*APIKeyResult, error) {
	if rawKey == "" {
		return nil, fmt.Errorf("empty API key")
	}

	hash := HashAPIKey(rawKey)

	key, err := a.Store.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("looking up API key: %w", err)
	}

	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("API key expired at %s", key.ExpiresAt)
	}

	// Update last_used asynchronously — fire and forget.
	go a.Store.TouchAPIKeyLastUsed(context.Background(), key.ID)

	role := key.Role
	if !IsValidRole(role) {
		role = RoleUser
	}

	return &APIKeyResult{
		APIKeyID:  key.ID,
		UserID:    key.UserID,
		KeyPrefix: key.KeyPrefix,
		Role:      role,
	}, nil
}
