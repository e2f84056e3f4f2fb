package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Roles supported by the RBAC system. Runtime lifecycle endpoints require
// RoleAdmin; agent endpoints additionally accept the owning user.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// ValidRoles lists all known roles in descending privilege order.
var ValidRoles = []string{RoleAdmin, RoleUser}

// Method describes how the caller was authenticated.
const (
	MethodSession = "session"
	MethodAPIKey  = "apikey"
	MethodDev     = "dev"
)

// Identity represents the authenticated caller for the current request.
type Identity struct {
	Subject  string     // display name or "apikey:<prefix>"
	Email    string     // empty for API keys
	Role     string     // one of the Role* constants
	UserID   *uuid.UUID // non-nil for session/dev auth
	APIKeyID *uuid.UUID // non-nil for API key authentication
	Method   string     // one of the Method* constants
}

// IsAdmin reports whether the identity holds the admin role.
func (id *Identity) IsAdmin() bool {
	return id != nil && id.Role == RoleAdmin
}

// Owns reports whether the identity is the admin role or the given owner.
func (id *Identity) Owns(ownerID uuid.UUID) bool {
	if id == nil {
		return false
	}
	if id.IsAdmin() {
		return true
	}
	return id.UserID != nil && *id.UserID == ownerID
}

type ctxKey string

const identityKey ctxKey = "auth_identity"

// NewContext stores the identity in the context.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity from the context. Returns nil if unset.
func FromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(identityKey).(*Identity)
	return v
}

// IsValidRole reports whether role is a recognised RBAC role.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// HashAPIKey returns the SHA-256 hex digest of a raw API key.
func HashAPIKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
