package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/revtrail/internal/audit"
)

const revisionColumns = `id, model, document_id, revision, document, user_id, created_at, updated_at`

const changeColumns = `id, path, document, diff, revision_id, created_at`

// ReadRevision retrieves a single revision by ID.
// Returns ErrNotFound if it does not exist.
func (s *Store) ReadRevision(ctx context.Context, id string) (audit.Revision, error) {
	key, err := s.opts.Keys.Encode(id)
	if err != nil {
		return audit.Revision{}, fmt.Errorf("read revision: %w", err)
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM "%s" WHERE id = ?
	`, revisionColumns, s.opts.RevisionTable), key)

	rev, err := s.scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Revision{}, fmt.Errorf("read revision %s: %w", id, ErrNotFound)
	}
	return rev, err
}

// ListRevisions returns all revisions of one record ordered by revision number.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ListRevisions(ctx context.Context, model, documentID string) ([]audit.Revision, error) {
	docID, err := s.opts.Keys.Encode(documentID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	return s.queryRevisions(ctx, fmt.Sprintf(`
		SELECT %s FROM "%s"
		WHERE model = ? AND document_id = ?
		ORDER BY revision ASC, id COLLATE BINARY ASC
	`, revisionColumns, s.opts.RevisionTable), model, docID)
}

// LatestRevision returns the highest-numbered revision of one record.
// Returns ErrNotFound if the record has no revisions.
func (s *Store) LatestRevision(ctx context.Context, model, documentID string) (audit.Revision, error) {
	docID, err := s.opts.Keys.Encode(documentID)
	if err != nil {
		return audit.Revision{}, fmt.Errorf("latest revision: %w", err)
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM "%s"
		WHERE model = ? AND document_id = ?
		ORDER BY revision DESC
		LIMIT 1
	`, revisionColumns, s.opts.RevisionTable), model, docID)

	rev, err := s.scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Revision{}, fmt.Errorf("latest revision %s/%s: %w", model, documentID, ErrNotFound)
	}
	return rev, err
}

// RevisionsByUser returns every revision attributed to a user, oldest first.
func (s *Store) RevisionsByUser(ctx context.Context, userID string) ([]audit.Revision, error) {
	return s.queryRevisions(ctx, fmt.Sprintf(`
		SELECT %s FROM "%s"
		WHERE user_id = ?
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, revisionColumns, s.opts.RevisionTable), userID)
}

// ListChanges returns the changes linked to a revision ordered by path.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ListChanges(ctx context.Context, revisionID string) ([]audit.Change, error) {
	revID, err := s.opts.Keys.Encode(revisionID)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM "%s"
		WHERE revision_id = ?
		ORDER BY path ASC, id COLLATE BINARY ASC
	`, changeColumns, s.opts.ChangeTable), revID)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	changes := []audit.Change{}
	for rows.Next() {
		ch, err := s.scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}

func (s *Store) queryRevisions(ctx context.Context, query string, args ...any) ([]audit.Revision, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()

	revisions := []audit.Revision{}
	for rows.Next() {
		rev, err := s.scanRevision(rows)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return revisions, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRevision(row scanner) (audit.Revision, error) {
	var (
		rev              audit.Revision
		id, docID        any
		userID           sql.NullString
		created, updated string
	)
	err := row.Scan(&id, &rev.Model, &docID, &rev.Number, &rev.Snapshot, &userID, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Revision{}, err
		}
		return audit.Revision{}, fmt.Errorf("scan revision: %w", err)
	}

	if rev.ID, err = s.opts.Keys.Decode(id); err != nil {
		return audit.Revision{}, fmt.Errorf("scan revision id: %w", err)
	}
	if rev.DocumentID, err = s.opts.Keys.Decode(docID); err != nil {
		return audit.Revision{}, fmt.Errorf("scan revision document id: %w", err)
	}
	rev.UserID = stringPtr(userID)
	if rev.CreatedAt, err = parseTime(created); err != nil {
		return audit.Revision{}, err
	}
	if rev.UpdatedAt, err = parseTime(updated); err != nil {
		return audit.Revision{}, err
	}
	return rev, nil
}

func (s *Store) scanChange(row scanner) (audit.Change, error) {
	var (
		ch      audit.Change
		id, rev any
		created string
	)
	if err := row.Scan(&id, &ch.Path, &ch.Document, &ch.Diff, &rev, &created); err != nil {
		return audit.Change{}, fmt.Errorf("scan change: %w", err)
	}

	var err error
	if ch.ID, err = s.opts.Keys.Decode(id); err != nil {
		return audit.Change{}, fmt.Errorf("scan change id: %w", err)
	}
	if ch.RevisionID, err = s.opts.Keys.Decode(rev); err != nil {
		return audit.Change{}, fmt.Errorf("scan change revision id: %w", err)
	}
	if ch.CreatedAt, err = parseTime(created); err != nil {
		return audit.Change{}, err
	}
	return ch, nil
}
