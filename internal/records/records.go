package records

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/revtrail/internal/audit"
	"github.com/roach88/revtrail/internal/ident"
	"github.com/roach88/revtrail/internal/revision"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a record's counter moved between read and
	// write, or an insert reuses an existing id.
	ErrConflict = errors.New("record conflict")
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
    model      TEXT NOT NULL,
    id         TEXT NOT NULL,
    revision   INTEGER NOT NULL,
    attributes TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (model, id)
);
`

// Hooks is what the store needs from the revision tracker.
// Implemented by revision.Tracker.
type Hooks interface {
	revision.Interceptor
	Lock(model, documentID string) (unlock func())
}

// IDSource generates ids for records created without one and
// validates ids supplied by the caller.
type IDSource interface {
	NewID() string
	Bytes(id string) ([]byte, error)
}

// Record is one stored record.
type Record struct {
	Model      string
	ID         string
	Revision   int64
	Attributes map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store is a SQLite record store. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	owned  bool
	hooks  Hooks
	ids    IDSource
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithIDs sets the id source for new records. Defaults to compact ids.
func WithIDs(ids IDSource) Option {
	return func(s *Store) {
		s.ids = ids
	}
}

// WithClock sets the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open opens or creates a record database at path.
func Open(path string, hooks Hooks, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	s, err := New(db, hooks, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New creates a Store on an existing database, such as the audit store's.
// The caller keeps ownership of db.
func New(db *sql.DB, hooks Hooks, opts ...Option) (*Store, error) {
	s := &Store{
		db:     db,
		hooks:  hooks,
		ids:    ident.MustNew(ident.PolicyCompact),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to apply records schema: %w", err)
	}
	return s, nil
}

// Close closes the database if Open created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

type mutateOptions struct {
	user *audit.Actor
}

// MutateOption configures one mutation.
type MutateOption func(*mutateOptions)

// AsUser attributes the mutation to userID, overriding any actor in ctx.
func AsUser(userID string) MutateOption {
	return func(o *mutateOptions) {
		o.user = &audit.Actor{ID: userID}
	}
}

func applyMutateOptions(opts []MutateOption) mutateOptions {
	var o mutateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// recordID returns the id for a new record: the caller's "id" attribute
// when present, a generated one otherwise.
func (s *Store) recordID(model string, attrs map[string]any) (string, error) {
	raw, ok := attrs["id"]
	if !ok || raw == nil {
		return s.ids.NewID(), nil
	}
	id, ok := raw.(string)
	if !ok || id == "" {
		return "", fmt.Errorf("create %s: %w: id must be a non-empty string, got %T", model, ident.ErrInvalidKey, raw)
	}
	if _, err := s.ids.Bytes(id); err != nil {
		return "", fmt.Errorf("create %s: %w", model, err)
	}
	return id, nil
}

// Create inserts a record. An "id" attribute is used as the record id,
// otherwise one is generated. A supplied id that is not a non-empty string
// valid under the key policy fails with ident.ErrInvalidKey.
func (s *Store) Create(ctx context.Context, model string, attrs map[string]any, opts ...MutateOption) (Record, error) {
	mo := applyMutateOptions(opts)
	current := clone(attrs)

	id, err := s.recordID(model, current)
	if err != nil {
		return Record{}, err
	}
	now := s.now().UTC()
	stamp := now.Format(time.RFC3339Nano)
	current["id"] = id
	current["createdAt"] = stamp
	current["updatedAt"] = stamp

	unlock := s.hooks.Lock(model, id)
	defer unlock()

	m := &revision.Mutation{Op: revision.OpCreate, Model: model, DocumentID: id, Current: current, User: mo.user}
	p, err := s.hooks.BeforeCreate(ctx, m)
	if err != nil {
		return Record{}, fmt.Errorf("create %s: %w", model, err)
	}

	data, committed, err := encode(m.Current)
	if err != nil {
		return Record{}, fmt.Errorf("create %s: %w", model, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (model, id, revision, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, model, id, p.Number, data, stamp, stamp)
	if err != nil {
		if isConstraint(err) {
			return Record{}, fmt.Errorf("create %s/%s: %w", model, id, ErrConflict)
		}
		return Record{}, fmt.Errorf("create %s: %w", model, err)
	}

	s.hooks.AfterCreate(ctx, p, committed)
	return Record{Model: model, ID: id, Revision: p.Number, Attributes: committed, CreatedAt: now, UpdatedAt: now}, nil
}

// Update merges patch into the record's attributes. id and createdAt are
// kept; a patched revision counter is ignored.
func (s *Store) Update(ctx context.Context, model, id string, patch map[string]any, opts ...MutateOption) (Record, error) {
	mo := applyMutateOptions(opts)

	unlock := s.hooks.Lock(model, id)
	defer unlock()

	prev, err := s.Get(ctx, model, id)
	if err != nil {
		return Record{}, err
	}

	now := s.now().UTC()
	stamp := now.Format(time.RFC3339Nano)
	current := clone(prev.Attributes)
	for k, v := range patch {
		current[k] = v
	}
	current["id"] = id
	current["createdAt"] = prev.Attributes["createdAt"]
	current["updatedAt"] = stamp

	m := &revision.Mutation{Op: revision.OpUpdate, Model: model, DocumentID: id, Previous: prev.Attributes, Current: current, User: mo.user}
	p, err := s.hooks.BeforeUpdate(ctx, m)
	if err != nil {
		return Record{}, fmt.Errorf("update %s/%s: %w", model, id, err)
	}

	data, committed, err := encode(m.Current)
	if err != nil {
		return Record{}, fmt.Errorf("update %s/%s: %w", model, id, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET revision = ?, attributes = ?, updated_at = ?
		WHERE model = ? AND id = ? AND revision = ?
	`, p.Number, data, stamp, model, id, p.Prior)
	if err != nil {
		return Record{}, fmt.Errorf("update %s/%s: %w", model, id, err)
	}
	if err := expectOneRow(res); err != nil {
		return Record{}, fmt.Errorf("update %s/%s: %w", model, id, err)
	}

	s.hooks.AfterUpdate(ctx, p, committed)
	return Record{Model: model, ID: id, Revision: p.Number, Attributes: committed, CreatedAt: prev.CreatedAt, UpdatedAt: now}, nil
}

// Delete removes a record and returns its final state, whose revision
// counter is the one recorded for the delete.
func (s *Store) Delete(ctx context.Context, model, id string, opts ...MutateOption) (Record, error) {
	return s.destroy(ctx, revision.OpDelete, model, id, applyMutateOptions(opts))
}

// BulkDelete removes every listed record, auditing each one. Missing ids
// are skipped. Returns the number of records deleted.
func (s *Store) BulkDelete(ctx context.Context, model string, ids []string, opts ...MutateOption) (int, error) {
	mo := applyMutateOptions(opts)
	deleted := 0
	for _, id := range ids {
		_, err := s.destroy(ctx, revision.OpBulkDelete, model, id, mo)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, err
		}
		deleted++
	}
	s.logger.Debug("bulk delete finished", "model", model, "requested", len(ids), "deleted", deleted)
	return deleted, nil
}

func (s *Store) destroy(ctx context.Context, op revision.Operation, model, id string, mo mutateOptions) (Record, error) {
	unlock := s.hooks.Lock(model, id)
	defer unlock()

	prev, err := s.Get(ctx, model, id)
	if err != nil {
		return Record{}, err
	}

	m := &revision.Mutation{Op: op, Model: model, DocumentID: id, Previous: prev.Attributes, Current: clone(prev.Attributes), User: mo.user}
	p, err := s.hooks.BeforeDestroy(ctx, m)
	if err != nil {
		return Record{}, fmt.Errorf("delete %s/%s: %w", model, id, err)
	}
	_, committed, err := encode(m.Current)
	if err != nil {
		return Record{}, fmt.Errorf("delete %s/%s: %w", model, id, err)
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM records WHERE model = ? AND id = ? AND revision = ?
	`, model, id, p.Prior)
	if err != nil {
		return Record{}, fmt.Errorf("delete %s/%s: %w", model, id, err)
	}
	if err := expectOneRow(res); err != nil {
		return Record{}, fmt.Errorf("delete %s/%s: %w", model, id, err)
	}

	s.hooks.AfterDestroy(ctx, p, committed)
	return Record{Model: model, ID: id, Revision: p.Number, Attributes: committed, CreatedAt: prev.CreatedAt, UpdatedAt: prev.UpdatedAt}, nil
}

// Get returns a record. Numbers in its attributes decode as json.Number.
func (s *Store) Get(ctx context.Context, model, id string) (Record, error) {
	var (
		rec              = Record{Model: model, ID: id}
		data             string
		created, updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT revision, attributes, created_at, updated_at
		FROM records WHERE model = ? AND id = ?
	`, model, id).Scan(&rec.Revision, &data, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%s/%s: %w", model, id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s/%s: %w", model, id, err)
	}

	if rec.Attributes, err = decode([]byte(data)); err != nil {
		return Record{}, fmt.Errorf("get %s/%s: %w", model, id, err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Record{}, fmt.Errorf("get %s/%s: created_at: %w", model, id, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return Record{}, fmt.Errorf("get %s/%s: updated_at: %w", model, id, err)
	}
	return rec, nil
}

// List returns every record of model ordered by id.
func (s *Store) List(ctx context.Context, model string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM records WHERE model = ? ORDER BY id ASC
	`, model)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", model, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list %s: %w", model, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", model, err)
	}

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, model, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func clone(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// encode serialises attributes and returns them as read back from storage,
// so hooks see exactly what was committed.
func encode(attrs map[string]any) (string, map[string]any, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(attrs); err != nil {
		return "", nil, fmt.Errorf("encode attributes: %w", err)
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")
	committed, err := decode(data)
	if err != nil {
		return "", nil, err
	}
	return string(data), committed, nil
}

func decode(data []byte) (map[string]any, error) {
	var attrs map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&attrs); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return attrs, nil
}
