package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role determines what a user may do: admins run auctions, dealers bid.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleDealer Role = "DEALER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleDealer
}

// User is an account that can authenticate and, depending on role, manage
// auctions or place bids.
type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}
