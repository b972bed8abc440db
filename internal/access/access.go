// Package access holds the authorization predicates for snippets and users.
//
// Every service method that returns or mutates a record calls one of these
// first. Keeping them in one place means the rules can be read (and tested)
// without going through HTTP or the database.
package access

import (
	"crypto/subtle"
	"strings"

	"github.com/sakif/snipshare/internal/apperror"
	"github.com/sakif/snipshare/internal/model"
)

// CanAccessSnippet reports whether principal owns the snippet.
// An empty principal never has access.
func CanAccessSnippet(principal string, snippet *model.Snippet) bool {
	return principal != "" && snippet != nil && snippet.OwnerID == principal
}

// CanAccessUser reports whether principal may act on the user record userID.
// Accounts are strictly self-service.
func CanAccessUser(principal, userID string) bool {
	return principal != "" && principal == userID
}

// CheckSharedSecret decides whether a shared link may be opened.
//
// The owner always passes. Anyone else must present a non-blank secret
// equal to the snippet's shared password; a blank secret is treated the
// same as a missing one. Surrounding whitespace is ignored, as it is when
// the password is stored. A snippet without a shared password cannot be
// opened by anyone but its owner.
func CheckSharedSecret(principal string, snippet *model.Snippet, secret string) error {
	if CanAccessSnippet(principal, snippet) {
		return nil
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return apperror.BadRequest("password is required to access this snippet")
	}
	if snippet.SharedPassword == nil || *snippet.SharedPassword == "" {
		return apperror.Forbidden("invalid password")
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(*snippet.SharedPassword)) != 1 {
		return apperror.Forbidden("invalid password")
	}
	return nil
}
