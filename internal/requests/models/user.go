package models

import (
	"time"

	id "civreg/pkg/domain"
)

// User is a portal profile. ID matches the auth provider identity.
type User struct {
	ID            id.UserID `json:"user_id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	ContactNumber string    `json:"contact_number"`
	Email         string    `json:"email"`
	Role          id.Role   `json:"role"`
	CreatedAt     time.Time `json:"created_at"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == id.RoleAdmin
}
