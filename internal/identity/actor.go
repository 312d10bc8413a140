package identity

import (
	"fmt"
	"strings"
)

// Role of the acting user as asserted by the upstream auth gateway.
type Role string

const (
	RoleCustomer   Role = "Customer"
	RoleSeller     Role = "Seller"
	RoleManager    Role = "Manager"
	RoleAdmin      Role = "Admin"
	RoleSuperAdmin Role = "SuperAdmin"
	// RoleSystem is used by internal workers (scheduler, status consumer).
	RoleSystem Role = "System"
)

// Actor is the identity on whose behalf an operation runs.
type Actor struct {
	ID   int64
	Role Role
}

// System returns the actor used by background jobs.
func System() Actor {
	return Actor{ID: 0, Role: RoleSystem}
}

// ParseRole normalizes a role name; the match is case-insensitive.
func ParseRole(s string) (Role, error) {
	for _, r := range []Role{RoleCustomer, RoleSeller, RoleManager, RoleAdmin, RoleSuperAdmin} {
		if strings.EqualFold(s, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// IsStaff reports whether the role acts on behalf of the marketplace rather than a customer.
func (r Role) IsStaff() bool {
	switch r {
	case RoleSeller, RoleManager, RoleAdmin, RoleSuperAdmin, RoleSystem:
		return true
	}
	return false
}

// IsAdmin reports whether the role may run administrative operations.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin || r == RoleSystem
}

func (a Actor) String() string {
	return fmt.Sprintf("%s#%d", a.Role, a.ID)
}
