package models

import (
	dErrors "togoretrouve/pkg/domain-errors"
)

// Role is the closed set of user roles.
type Role string

const (
	RoleCitizen Role = "citizen"
	RoleAgent   Role = "agent"
	RoleAdmin   Role = "admin"
)

// ParseRole converts untrusted input into a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCitizen, RoleAgent, RoleAdmin:
		return r, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "role must be one of citizen, agent, admin")
	}
}

func (r Role) String() string { return string(r) }

// IsStaff reports whether the role acts on declarations on behalf of a structure.
func (r Role) IsStaff() bool {
	return r == RoleAgent || r == RoleAdmin
}
