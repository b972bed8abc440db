// Package repository declares the storage interfaces the service layer
// depends on. Implementations live in subpackages (see repository/sqldb).
package repository

import (
	"context"

	"github.com/sakif/snipshare/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// SnippetRepository persists snippets.
//
// Lookups by ID and UUID are NOT owner-scoped: authorization is decided by
// the service through the access package, never by query scoping alone.
// ListByOwner is the one exception, and it is scoped by construction.
type SnippetRepository interface {
	Create(ctx context.Context, snippet *model.Snippet) error
	GetByID(ctx context.Context, id string) (*model.Snippet, error)
	GetByUUID(ctx context.Context, uuid string) (*model.Snippet, error)
	ListByOwner(ctx context.Context, ownerID string, opts ListOptions) ([]model.Snippet, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error)
	Update(ctx context.Context, snippet *model.Snippet) error
	Delete(ctx context.Context, id string) error
}

// UserRepository persists user accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
	// DeleteUser removes the user and every snippet they own.
	DeleteUser(ctx context.Context, id string) error
}
