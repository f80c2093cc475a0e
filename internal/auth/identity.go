package auth

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleReporter  Role = "reporter"
	RoleAuthority Role = "authority"
	RoleAdmin     Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleReporter, RoleAuthority, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Elevated roles may review and decide on any record.
func (r Role) Elevated() bool {
	return r == RoleAuthority || r == RoleAdmin
}

// Identity is the authenticated caller of an operation.
type Identity struct {
	UserID string
	Role   Role
}
