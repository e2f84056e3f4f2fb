// Package ctlerrors defines the error kinds the orchestration core raises,
// so HTTP handlers can map them to status codes with errors.As at the
// boundary instead of string matching.
package ctlerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// NotFoundError means the named entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// PermissionDeniedError means the caller is authenticated but not authorized
// for the requested action.
type PermissionDeniedError struct {
	Reason string
}

func (e *PermissionDeniedError) Error() string {
	if e.Reason == "" {
		return "permission denied"
	}
	return "permission denied: " + e.Reason
}

// ConflictError means a single-flight guard or admission cap rejected the
// request.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

// PoolEmptyError means no unattached, started runtime was available.
type PoolEmptyError struct{}

func (e *PoolEmptyError) Error() string {
	return "no runtime available, provisioning more — retry shortly"
}

// FabricError wraps a failure from the cloud fabric adapter.
type FabricError struct {
	Op    string
	Cause error
}

func (e *FabricError) Error() string {
	return fmt.Sprintf("fabric op %s: %v", e.Op, e.Cause)
}

func (e *FabricError) Unwrap() error { return e.Cause }

// ControllerError wraps a failure talking to the in-container controller.
type ControllerError struct {
	RuntimeID string
	Phase     string
	Cause     error
}

func (e *ControllerError) Error() string {
	return fmt.Sprintf("controller error for runtime %s during %s: %v", e.RuntimeID, e.Phase, e.Cause)
}

func (e *ControllerError) Unwrap() error { return e.Cause }

// TimeoutError means a poll budget was exhausted.
type TimeoutError struct {
	Phase  string
	Budget int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: exhausted poll budget of %d attempts", e.Phase, e.Budget)
}

// HTTPStatus maps a domain error to an HTTP status and a stable error code
// for the response body. Unrecognized errors map to 500/"internal_error".
func HTTPStatus(err error) (status int, code string) {
	var notFound *NotFoundError
	var permDenied *PermissionDeniedError
	var conflict *ConflictError
	var poolEmpty *PoolEmptyError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &permDenied):
		return http.StatusForbidden, "forbidden"
	case errors.As(err, &conflict):
		return http.StatusConflict, "conflict"
	case errors.As(err, &poolEmpty):
		return http.StatusServiceUnavailable, "pool_empty"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
