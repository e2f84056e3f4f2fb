package ctlerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "not found",
			err:        &NotFoundError{Entity: "runtime", ID: "abc"},
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "permission denied",
			err:        &PermissionDeniedError{Reason: "not owner"},
			wantStatus: http.StatusForbidden,
			wantCode:   "forbidden",
		},
		{
			name:       "conflict",
			err:        &ConflictError{Reason: "already in flight"},
			wantStatus: http.StatusConflict,
			wantCode:   "conflict",
		},
		{
			name:       "pool empty",
			err:        &PoolEmptyError{},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "pool_empty",
		},
		{
			name:       "wrapped not found still matches via errors.As",
			err:        fmt.Errorf("loading: %w", &NotFoundError{Entity: "agent", ID: "1"}),
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "unrecognized error maps to internal",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
		{
			name:       "fabric error maps to internal",
			err:        &FabricError{Op: "CreateService", Cause: errors.New("aws down")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := HTTPStatus(tt.err)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestFabricErrorUnwrap(t *testing.T) {
	cause := errors.New("throttled")
	err := &FabricError{Op: "CreateTargetGroup", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find wrapped cause")
	}
}

func TestControllerErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ControllerError{RuntimeID: "r1", Phase: "ping", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find wrapped cause")
	}
	want := "controller error for runtime r1 during ping: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestTimeoutErrorMessage(t *testing.T) {
	err := &TimeoutError{Phase: "create_runtime_ping", Budget: 40}
	want := "create_runtime_ping: exhausted poll budget of 40 attempts"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestPermissionDeniedErrorDefaultReason(t *testing.T) {
	err := &PermissionDeniedError{}
	if err.Error() != "permission denied" {
		t.Errorf("Error() = %q, want %q", err.Error(), "permission denied")
	}
}
