package store

import (
	"context"
	"fmt"

	"github.com/roach88/revtrail/internal/audit"
)

// WriteRevision inserts a revision.
// Fails if the id or the (model, document_id, revision) triple already exists.
func (s *Store) WriteRevision(ctx context.Context, rev audit.Revision) error {
	id, err := s.opts.Keys.Encode(rev.ID)
	if err != nil {
		return fmt.Errorf("write revision: id: %w", err)
	}
	docID, err := s.opts.Keys.Encode(rev.DocumentID)
	if err != nil {
		return fmt.Errorf("write revision: document id: %w", err)
	}

	created, updated := rev.CreatedAt, rev.UpdatedAt
	if created.IsZero() {
		created = s.opts.Now()
	}
	if updated.IsZero() {
		updated = created
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO "%s"
		(id, model, document_id, revision, document, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.opts.RevisionTable),
		id,
		rev.Model,
		docID,
		rev.Number,
		rev.Snapshot,
		nullableString(rev.UserID),
		formatTime(created),
		formatTime(updated),
	)
	if err != nil {
		return fmt.Errorf("write revision: %w", err)
	}
	return nil
}

// WriteChange inserts a change referencing an existing revision.
func (s *Store) WriteChange(ctx context.Context, ch audit.Change) error {
	id, err := s.opts.Keys.Encode(ch.ID)
	if err != nil {
		return fmt.Errorf("write change: id: %w", err)
	}
	revID, err := s.opts.Keys.Encode(ch.RevisionID)
	if err != nil {
		return fmt.Errorf("write change: revision id: %w", err)
	}

	created := ch.CreatedAt
	if created.IsZero() {
		created = s.opts.Now()
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO "%s"
		(id, path, document, diff, revision_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.opts.ChangeTable),
		id,
		ch.Path,
		ch.Document,
		ch.Diff,
		revID,
		formatTime(created),
		formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("write change: %w", err)
	}
	return nil
}

// LinkChange associates a written change with its revision.
// Idempotent: relinking to the same revision is a no-op write.
// Returns ErrNotFound if the change does not exist.
func (s *Store) LinkChange(ctx context.Context, revisionID, changeID string) error {
	revID, err := s.opts.Keys.Encode(revisionID)
	if err != nil {
		return fmt.Errorf("link change: revision id: %w", err)
	}
	chID, err := s.opts.Keys.Encode(changeID)
	if err != nil {
		return fmt.Errorf("link change: change id: %w", err)
	}

	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE "%s" SET revision_id = ?, updated_at = ? WHERE id = ?
	`, s.opts.ChangeTable), revID, formatTime(s.opts.Now()), chID)
	if err != nil {
		return fmt.Errorf("link change: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("link change: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("link change %s: %w", changeID, ErrNotFound)
	}
	return nil
}
