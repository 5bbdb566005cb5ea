package authz

import (
	"fmt"

	"stockcast/internal/domain"
)

// Role is a caller's access level.
type Role string

const (
	RoleOwner    Role = "OWNER"
	RoleFinance  Role = "FINANCE"
	RoleOps      Role = "OPS"
	RoleReadonly Role = "READONLY"
)

// Actor identifies a caller for authorization and dual-control checks.
type Actor struct {
	ID   string
	Role Role
}

// Authorizer checks whether a caller may perform an operation.
type Authorizer interface {
	RequireRole(actor Actor, allowed ...Role) error
}

// Matrix is the static role matrix from the permission table.
type Matrix struct{}

// RequireRole returns ErrInvalidArgument-wrapped Forbidden when the
// actor's role is not in the allowed set.
func (Matrix) RequireRole(actor Actor, allowed ...Role) error {
	for _, r := range allowed {
		if actor.Role == r {
			return nil
		}
	}
	return fmt.Errorf("role %s not permitted: %w", actor.Role, domain.ErrInvalidArgument)
}

// Convenience role sets for the exposed operations.
var (
	CanGenerate = []Role{RoleFinance, RoleOwner}
	CanApprove  = []Role{RoleFinance, RoleOwner}
	CanFeedback = []Role{RoleFinance, RoleOps, RoleOwner}
	CanView     = []Role{RoleOwner, RoleFinance, RoleOps, RoleReadonly}
)
