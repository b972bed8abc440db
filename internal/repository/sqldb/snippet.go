package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/sakif/snipshare/internal/apperror"
	"github.com/sakif/snipshare/internal/model"
	"github.com/sakif/snipshare/internal/repository"
)

// COMPILE-TIME INTERFACE CHECK:
// If *DB stops implementing SnippetRepository, this line fails to compile.
var _ repository.SnippetRepository = (*DB)(nil)

// snippetColumns is shared by every SELECT so scanSnippet stays in sync.
// The LEFT JOIN pulls the owner's username for the "owner" field.
const snippetColumns = `
	s.id, s.uuid, s.title, s.code, s.language, s.style, s.linenos,
	s.highlighted, s.owner_id, COALESCE(u.username, ''), s.shared_password,
	s.created_at, s.updated_at`

const snippetFrom = `
	FROM snippets s
	LEFT JOIN users u ON u.id = s.owner_id`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnippet(row rowScanner, s *model.Snippet) error {
	return row.Scan(
		&s.ID, &s.UUID, &s.Title, &s.Code, &s.Language, &s.Style, &s.LineNos,
		&s.Highlighted, &s.OwnerID, &s.OwnerUsername, &s.SharedPassword,
		&s.CreatedAt, &s.UpdatedAt,
	)
}

// Create inserts a new snippet.
//
// The primary key (xid) and the public identifier (UUIDv4) are both assigned
// here, together with the timestamps. The caller's struct is updated in place.
// UUID is never written again after this INSERT.
//
// The owner is looked up first, which also fills the read-only
// OwnerUsername. A missing owner is apperror.NotFound on every dialect,
// including MySQL where the inline foreign key is not enforced.
func (db *DB) Create(ctx context.Context, snippet *model.Snippet) error {
	err := db.conn.QueryRowContext(ctx, db.rebind(`SELECT username FROM users WHERE id = ?`),
		snippet.OwnerID).Scan(&snippet.OwnerUsername)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("user", snippet.OwnerID)
		}
		return fmt.Errorf("sqldb: looking up snippet owner %s: %w", snippet.OwnerID, err)
	}

	snippet.ID = xid.New().String()
	snippet.UUID = uuid.NewString()

	now := time.Now().UTC()
	snippet.CreatedAt = now
	snippet.UpdatedAt = now

	_, err = db.conn.ExecContext(ctx, db.rebind(
		`INSERT INTO snippets (id, uuid, title, code, language, style, linenos,
		                       highlighted, owner_id, shared_password, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		snippet.ID,
		snippet.UUID,
		snippet.Title,
		snippet.Code,
		snippet.Language,
		snippet.Style,
		snippet.LineNos,
		snippet.Highlighted,
		snippet.OwnerID,
		snippet.SharedPassword,
		snippet.CreatedAt,
		snippet.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqldb: creating snippet: %w", err)
	}

	return nil
}

// GetByID retrieves a snippet by its primary key regardless of owner.
// sql.ErrNoRows is translated to apperror.NotFound.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Snippet, error) {
	var s model.Snippet
	err := scanSnippet(db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT `+snippetColumns+snippetFrom+` WHERE s.id = ?`), id), &s)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("snippet", id)
		}
		return nil, fmt.Errorf("sqldb: getting snippet %s: %w", id, err)
	}
	return &s, nil
}

// GetByUUID retrieves a snippet by its public identifier across all owners.
// This is the lookup behind shared links.
func (db *DB) GetByUUID(ctx context.Context, publicID string) (*model.Snippet, error) {
	var s model.Snippet
	err := scanSnippet(db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT `+snippetColumns+snippetFrom+` WHERE s.uuid = ?`), publicID), &s)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("snippet", publicID)
		}
		return nil, fmt.Errorf("sqldb: getting snippet by uuid %s: %w", publicID, err)
	}
	return &s, nil
}

// ListByOwner returns one page of the owner's snippets, oldest first.
// Ties on created_at are broken by id (xids are time-ordered).
func (db *DB) ListByOwner(ctx context.Context, ownerID string, opts repository.ListOptions) ([]model.Snippet, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx, db.rebind(
		`SELECT `+snippetColumns+snippetFrom+`
		 WHERE s.owner_id = ?
		 ORDER BY s.created_at ASC, s.id ASC
		 LIMIT ? OFFSET ?`),
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing snippets for %s: %w", ownerID, err)
	}
	// CRITICAL: always close rows when done, or the connection leaks.
	defer rows.Close()

	snippets := make([]model.Snippet, 0, limit)
	for rows.Next() {
		var s model.Snippet
		if err := scanSnippet(rows, &s); err != nil {
			return nil, fmt.Errorf("sqldb: scanning snippet row: %w", err)
		}
		snippets = append(snippets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating snippets: %w", err)
	}

	return snippets, nil
}

// CountByOwner returns how many snippets the owner has in total.
func (db *DB) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT COUNT(*) FROM snippets WHERE owner_id = ?`), ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqldb: counting snippets for %s: %w", ownerID, err)
	}
	return n, nil
}

// ListIDsByOwner returns the ids of every snippet the owner has, oldest first.
func (db *DB) ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(
		`SELECT id FROM snippets WHERE owner_id = ? ORDER BY created_at ASC, id ASC`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing snippet ids for %s: %w", ownerID, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqldb: scanning snippet id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating snippet ids: %w", err)
	}
	return ids, nil
}

// Update writes the mutable columns of a snippet.
//
// id, uuid, owner_id and created_at are deliberately absent from the SET
// clause: they are immutable once the row exists.
func (db *DB) Update(ctx context.Context, snippet *model.Snippet) error {
	snippet.UpdatedAt = time.Now().UTC()

	result, err := db.conn.ExecContext(ctx, db.rebind(
		`UPDATE snippets
		 SET title = ?, code = ?, language = ?, style = ?, linenos = ?,
		     highlighted = ?, shared_password = ?, updated_at = ?
		 WHERE id = ?`),
		snippet.Title,
		snippet.Code,
		snippet.Language,
		snippet.Style,
		snippet.LineNos,
		snippet.Highlighted,
		snippet.SharedPassword,
		snippet.UpdatedAt,
		snippet.ID,
	)
	if err != nil {
		return fmt.Errorf("sqldb: updating snippet %s: %w", snippet.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("snippet", snippet.ID)
	}

	return nil
}

// Delete removes a snippet by its ID.
func (db *DB) Delete(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, db.rebind(`DELETE FROM snippets WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("sqldb: deleting snippet %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("snippet", id)
	}

	return nil
}
