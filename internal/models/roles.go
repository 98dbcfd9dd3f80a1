package models

import "strings"

// Role is the closed set of access levels a caller can hold.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleGuest Role = "guest"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleGuest:
		return true
	}
	return false
}

// ParseRole normalizes user input into a Role. The second result is false for
// anything outside the enumeration.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	return role, role.Valid()
}

// RoleAssignment records an explicit role for a user identity.
type RoleAssignment struct {
	User string `json:"user"`
	Role Role   `json:"role"`
}
