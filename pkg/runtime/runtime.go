// Package runtime models a provisioned remote container (a "runtime") and
// its durable state, and implements the service-number allocator.
package runtime

import (
	"time"

	"github.com/google/uuid"
)

// Runtime is a reservation for one remote container.
type Runtime struct {
	ID                 uuid.UUID
	ServiceNo          int
	URL                string
	Started            bool
	LastHealthcheck    *time.Time
	FailedHealthchecks int
	ServiceHandle      *string
	TargetGroupHandle  *string
	HTTPRuleHandle     *string
	HTTPSRuleHandle    *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasAllHandles reports whether every cloud resource handle has been
// recorded, meaning provisioning reached the final saga step.
func (r *Runtime) HasAllHandles() bool {
	return r.ServiceHandle != nil && r.TargetGroupHandle != nil && r.HTTPRuleHandle != nil && r.HTTPSRuleHandle != nil
}
