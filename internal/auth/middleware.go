package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Middleware returns an HTTP middleware that authenticates the caller via
// session JWT, API key, or (when enabled) a development header, and stores
// the resulting Identity in the request context.
//
// Precedence:
//  1. Authorization: Bearer <jwt>   → session JWT (HMAC)
//  2. X-API-Key: <raw-key>          → API key hash lookup
//  3. X-Admin-Dev: 1                → dev-only fallback, granted admin
//
// If none succeed, the request is rejected with 401.
func Middleware(sessionMgr *SessionManager, apikeyAuth *APIKeyAuthenticator, devHeaderEnabled bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity *Identity

			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				rawToken := strings.TrimSpace(authHeader[len("Bearer "):])
				if sessionMgr != nil {
					claims, err := sessionMgr.ValidateToken(rawToken)
					if err != nil {
						logger.Warn("session token validation failed", "error", err)
						respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
						return
					}
					identity = identityFromClaims(claims)
					logger.Debug("authenticated via session JWT", "sub", claims.Subject)
				} else {
					respondErr(w, http.StatusUnauthorized, "unauthorized", "session authentication not configured")
					return
				}
			}

			if identity == nil {
				if rawKey := r.Header.Get("X-API-Key"); rawKey != "" {
					if apikeyAuth == nil {
						respondErr(w, http.StatusUnauthorized, "unauthorized", "API key authentication not configured")
						return
					}
					result, err := apikeyAuth.Authenticate(r.Context(), rawKey)
					if err != nil {
						logger.Warn("API key authentication failed", "error", err)
						respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
						return
					}
					userID := result.UserID
					identity = &Identity{
						Subject:  "apikey:" + result.KeyPrefix,
						Role:     result.Role,
						UserID:   &userID,
						APIKeyID: &result.APIKeyID,
						Method:   MethodAPIKey,
					}
					logger.Debug("authenticated via API key", "key_prefix", result.KeyPrefix, "role", result.Role)
				}
			}

			if identity == nil && devHeaderEnabled {
				if r.Header.Get("X-Admin-Dev") != "" {
					devID := uuid.Nil
					identity = &Identity{
						Subject: "dev:admin",
						Email:   "dev@localhost",
						Role:    RoleAdmin,
						UserID:  &devID,
						Method:  MethodDev,
					}
					logger.Debug("dev-mode authentication granted admin identity")
				}
			}

			if identity == nil {
				respondErr(w, http.StatusUnauthorized, "unauthorized", "no valid authentication provided")
				return
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondErr(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}
