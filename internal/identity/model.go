package identity

import (
	"errors"
	"time"
)

// Role gates which ledger routes a user may reach.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleStudent
}

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// User is an account allowed to sign in to the ledger API.
type User struct {
	ID           string
	Email        string
	Role         Role
	PasswordHash []byte
	TokenVersion int
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// Credentials request structure.
type Credentials struct {
	Email    string
	Password string
}
