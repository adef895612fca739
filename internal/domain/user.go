package domain

import (
	"strings"
	"time"
)

type User struct {
	ID        int       `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeEmail lowercases and trims an address so sign-ins with different
// casing resolve to the same identity.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (u *User) Validate() error {
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return ErrInvalidEmail
	}
	return nil
}
