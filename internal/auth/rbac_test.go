package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func withIdentity(r *http.Request, id *Identity) *http.Request {
	if id == nil {
		return r
	}
	return r.WithContext(NewContext(r.Context(), id))
}

func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no identity: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	r2 := withIdentity(httptest.NewRequest(http.MethodGet, "/", nil), &Identity{Role: RoleUser})
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, r2)
	if w2.Code != http.StatusOK {
		t.Errorf("with identity: status = %d, want %d", w2.Code, http.StatusOK)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(RoleAdmin)(okHandler())

	tests := []struct {
		name string
		id   *Identity
		want int
	}{
		{"no identity", nil, http.StatusForbidden},
		{"wrong role", &Identity{Role: RoleUser}, http.StatusForbidden},
		{"allowed role", &Identity{Role: RoleAdmin}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := withIdentity(httptest.NewRequest(http.MethodGet, "/", nil), tt.id)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRequireMinRole(t *testing.T) {
	handler := RequireMinRole(RoleAdmin)(okHandler())

	tests := []struct {
		name string
		id   *Identity
		want int
	}{
		{"no identity", nil, http.StatusForbidden},
		{"below minimum", &Identity{Role: RoleUser}, http.StatusForbidden},
		{"meets minimum", &Identity{Role: RoleAdmin}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := withIdentity(httptest.NewRequest(http.MethodGet, "/", nil), tt.id)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	userHandler := RequireMinRole(RoleUser)(okHandler())
	r := withIdentity(httptest.NewRequest(http.MethodGet, "/", nil), &Identity{Role: RoleAdmin})
	w := httptest.NewRecorder()
	userHandler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("admin should satisfy RequireMinRole(user): status = %d, want %d", w.Code, http.StatusOK)
	}
}
