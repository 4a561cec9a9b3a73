package models

import "strings"

// Role represents the role a user asserts at login. Roles are trusted input:
// nothing verifies them.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleDriver    Role = "DRIVER"
	RolePassenger Role = "PASSENGER"
)

// User is the ephemeral session identity. It is created at login and
// discarded at logout.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
	Name  string `json:"name"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Claims represents session token claims
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Exp    int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleDriver, RolePassenger:
		return true
	default:
		return false
	}
}

// ParseRole accepts a role name in any letter case.
func ParseRole(s string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(s)))
	return role, IsValidRole(role)
}
