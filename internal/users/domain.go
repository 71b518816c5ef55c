// Package users manages user accounts and their privilege listings.
package users

import (
	"time"

	"github.com/formworks-app/formworks/internal/privileges"
)

// User represents a platform account.
type User struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Email      string                 `json:"email"`
	IsActive   bool                   `json:"is_active"`
	Privileges []privileges.Privilege `json:"privileges"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// BasePrivilegeName is the bilingual-neutral key of the privilege attached
// to every first-time user.
const BasePrivilegeName = "base"
