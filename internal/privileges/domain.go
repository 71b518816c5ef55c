// Package privileges maintains named permission bundles, their assignment to
// users, and the cached resolution of a user's effective rule set.
package privileges

import (
	"errors"
	"time"

	"github.com/formworks-app/formworks/internal/authz"
)

// ErrNoPrivilegesAssigned indicates the user exists but holds zero
// privileges, or no longer exists at all. Callers treat it as deny-all
// rather than a hard failure.
var ErrNoPrivilegesAssigned = errors.New("privileges: no privileges assigned to user")

// Privilege is a named, bilingual bundle of permissions assignable to users.
// Identity is immutable once created; content changes via Redefine.
type Privilege struct {
	ID            string             `json:"id"`
	NameEn        string             `json:"name_en"`
	NameFr        string             `json:"name_fr"`
	DescriptionEn string             `json:"description_en"`
	DescriptionFr string             `json:"description_fr"`
	Permissions   []authz.Permission `json:"permissions"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// PrivilegeInput carries the mutable content of a privilege definition.
type PrivilegeInput struct {
	NameEn        string             `json:"name_en" validate:"required,max=120"`
	NameFr        string             `json:"name_fr" validate:"required,max=120"`
	DescriptionEn string             `json:"description_en" validate:"max=500"`
	DescriptionFr string             `json:"description_fr" validate:"max=500"`
	Permissions   []authz.Permission `json:"permissions" validate:"required,min=1"`
}

// PrivilegeRef identifies a privilege after a successful definition write.
type PrivilegeRef struct {
	ID string `json:"id"`
}

// ChangeOp is the direction of one assignment change.
type ChangeOp string

// Assignment change directions.
const (
	ChangeAdd    ChangeOp = "add"
	ChangeRemove ChangeOp = "remove"
)

// AssignmentChange adds or removes one privilege on a user.
type AssignmentChange struct {
	PrivilegeID string   `json:"id" validate:"required,uuid4"`
	Op          ChangeOp `json:"action" validate:"required,oneof=add remove"`
}
