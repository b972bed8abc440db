// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// Default render settings applied when a snippet is created without them.
const (
	DefaultLanguage = "python"
	DefaultStyle    = "colorful"
)

// Snippet represents a saved code snippet.
//
// Two identifiers exist on purpose:
//   - ID is the internal primary key (xid). Only the owner ever uses it.
//   - UUID is the public identifier handed out in share links. It is assigned
//     once at creation and never changes.
//
// Highlighted is derived from (Code, Language, Style, LineNos). The service
// recomputes it whenever one of those changes; there is no other write path.
type Snippet struct {
	ID             string    `json:"id"`
	UUID           string    `json:"uuid"`
	Title          string    `json:"title"`
	Code           string    `json:"code"`
	Language       string    `json:"language"`
	Style          string    `json:"style"`
	LineNos        bool      `json:"linenos"`
	Highlighted    string    `json:"-"`
	OwnerID        string    `json:"-"`
	OwnerUsername  string    `json:"owner"` // read-only, filled by a join
	SharedPassword *string   `json:"shared_password"`
	CreatedAt      time.Time `json:"created"`
	UpdatedAt      time.Time `json:"updated"`
}
