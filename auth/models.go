package auth

import "time"

type Role string

const (
	RoleFounder  Role = "founder"
	RoleInvestor Role = "investor"
)

// User is the domain representation of an account. It mirrors the users
// table and carries no JSON annotations so it can be reused by different
// presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
