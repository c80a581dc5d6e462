package model

import "fmt"

// Role is the logical camera identity, independent of the physical device.
type Role string

const (
	RoleThermal Role = "thermal"
	RoleRGB     Role = "rgb"
)

// Roles returns the roles in canonical polling order.
func Roles() []Role {
	return []Role{RoleThermal, RoleRGB}
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleThermal, RoleRGB:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown camera role: %q", s)
	}
}

func (r Role) String() string {
	return string(r)
}
