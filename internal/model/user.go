package model

import "time"

// User represents a registered user account.
//
// Accounts are created through /register (username + password) or through
// GitHub OAuth. GitHubID is nil for password-only accounts; PasswordHash is
// empty for GitHub-only accounts, which therefore cannot use /login.
//
// WHY Email string (not *string)?
// Email is optional. We use an empty string as the zero value rather than a
// nullable pointer: simpler to work with and safe to display.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // bcrypt; never serialized
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	GitHubID     *int64    `json:"-"`
	CreatedAt    time.Time `json:"created"`
	UpdatedAt    time.Time `json:"updated"`
}
