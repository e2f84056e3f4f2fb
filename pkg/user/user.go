// Package user models operator accounts: the admin/user principals that
// authenticate via session login or API key and own agents.
package user

import (
	"time"

	"github.com/google/uuid"
)

// CreateRequest is the JSON body for POST /api/v1/users.
type CreateRequest struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name" validate:"required,min=2"`
	Role        string `json:"role" validate:"required,oneof=admin user"`
	Password    string `json:"password" validate:"required,min=8"`
}

// UpdateRequest is the JSON body for PUT /api/v1/users/:id. Password is
// optional; nil means leave unchanged.
type UpdateRequest struct {
	Email       string  `json:"email" validate:"required,email"`
	DisplayName string  `json:"display_name" validate:"required,min=2"`
	Role        string  `json:"role" validate:"required,oneof=admin user"`
	Password    *string `json:"password" validate:"omitempty,min=8"`
}

// Response is the JSON response for a single user. Never carries the
// password hash.
type Response struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
