package runtime

import (
	"time"

	"github.com/google/uuid"
)

// Response is the JSON representation of a Runtime.
type Response struct {
	ID                 uuid.UUID  `json:"id"`
	ServiceNo          int        `json:"service_no"`
	URL                string     `json:"url"`
	Started            bool       `json:"started"`
	LastHealthcheck    *time.Time `json:"last_healthcheck,omitempty"`
	FailedHealthchecks int        `json:"failed_healthchecks"`
	HasAllHandles      bool       `json:"has_all_handles"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ToResponse converts a Runtime to its JSON DTO. Cloud resource handles are
// deliberately omitted — they are internal fabric identifiers, not API surface.
func (r *Runtime) ToResponse() Response {
	return Response{
		ID:                 r.ID,
		ServiceNo:          r.ServiceNo,
		URL:                r.URL,
		Started:            r.Started,
		LastHealthcheck:    r.LastHealthcheck,
		FailedHealthchecks: r.FailedHealthchecks,
		HasAllHandles:      r.HasAllHandles(),
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}
