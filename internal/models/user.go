package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles.
const (
	RoleDeveloper = "DEVELOPER"
	RoleTester    = "TESTER"
	RoleAdmin     = "ADMIN"
)

type User struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	PasswordHash    string    `json:"-"`
	Role            string    `json:"role"`
	StripeAccountID *string   `json:"stripe_account_id,omitempty"`
	PayoutsEnabled  bool      `json:"payouts_enabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasPayoutDestination reports whether the user has a connected gateway account.
func (u *User) HasPayoutDestination() bool {
	return u != nil && u.StripeAccountID != nil && *u.StripeAccountID != ""
}

func ValidRole(role string) bool {
	switch role {
	case RoleDeveloper, RoleTester, RoleAdmin:
		return true
	}
	return false
}
