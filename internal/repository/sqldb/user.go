package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/snipshare/internal/apperror"
	"github.com/sakif/snipshare/internal/model"
	"github.com/sakif/snipshare/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, password_hash, email, first_name, last_name,
	github_id, created_at, updated_at`

func scanUser(row rowScanner, u *model.User) error {
	var githubID sql.NullInt64
	if err := row.Scan(
		&u.ID,
		&u.Username,
		&u.PasswordHash,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&githubID,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return err
	}
	if githubID.Valid {
		id := githubID.Int64
		u.GitHubID = &id
	}
	return nil
}

// CreateUser inserts a new account. ID and timestamps are assigned here.
//
// A taken username surfaces as a validation error on "username" so the
// registration form can show it next to the field. A taken github_id is a
// plain conflict; the OAuth flow looks the user up before creating.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx, db.rebind(
		`INSERT INTO users (id, username, password_hash, email, first_name, last_name,
		                    github_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		user.ID,
		user.Username,
		user.PasswordHash,
		user.Email,
		user.FirstName,
		user.LastName,
		user.GitHubID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return db.uniqueUserError(ctx, user)
		}
		return fmt.Errorf("sqldb: inserting user %q: %w", user.Username, err)
	}

	return nil
}

// uniqueUserError works out which UNIQUE column the new row collided with.
func (db *DB) uniqueUserError(ctx context.Context, user *model.User) error {
	if existing, err := db.GetUserByUsername(ctx, user.Username); err == nil && existing.ID != user.ID {
		return apperror.ValidationFailed("username", "A user with that username already exists.")
	}
	if user.GitHubID != nil {
		return apperror.Conflict("user", strconv.FormatInt(*user.GitHubID, 10))
	}
	return apperror.Conflict("user", user.Username)
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := scanUser(db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT `+userColumns+` FROM users WHERE id = ?`), id), &u)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqldb: getting user %s: %w", id, err)
	}
	return &u, nil
}

// GetUserByUsername is the lookup behind /login.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := scanUser(db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT `+userColumns+` FROM users WHERE username = ?`), username), &u)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqldb: getting user %q: %w", username, err)
	}
	return &u, nil
}

// GetUserByGitHubID is used by the OAuth callback to find a returning user.
func (db *DB) GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	var u model.User
	err := scanUser(db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT `+userColumns+` FROM users WHERE github_id = ?`), githubID), &u)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(githubID, 10))
		}
		return nil, fmt.Errorf("sqldb: getting user by github_id %d: %w", githubID, err)
	}
	return &u, nil
}

// UpdateUser writes the editable profile columns and the password hash.
func (db *DB) UpdateUser(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	result, err := db.conn.ExecContext(ctx, db.rebind(
		`UPDATE users
		 SET username = ?, password_hash = ?, email = ?, first_name = ?, last_name = ?,
		     github_id = ?, updated_at = ?
		 WHERE id = ?`),
		user.Username,
		user.PasswordHash,
		user.Email,
		user.FirstName,
		user.LastName,
		user.GitHubID,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return db.uniqueUserError(ctx, user)
		}
		return fmt.Errorf("sqldb: updating user %s: %w", user.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", user.ID)
	}

	return nil
}

// DeleteUser removes a user together with every snippet they own.
//
// The schema already cascades, but MySQL ignores inline REFERENCES clauses,
// so the snippets are deleted explicitly inside the same transaction.
func (db *DB) DeleteUser(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqldb: beginning transaction: %w", err)
	}
	// Rollback after Commit is a no-op, so deferring it is always safe.
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM snippets WHERE owner_id = ?`), id); err != nil {
		return fmt.Errorf("sqldb: deleting snippets of user %s: %w", id, err)
	}

	result, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("sqldb: deleting user %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqldb: committing user delete: %w", err)
	}
	return nil
}
