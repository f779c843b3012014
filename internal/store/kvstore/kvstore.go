// Package kvstore provides a BadgerDB-backed audit store with the same
// read/write surface as the SQLite store.
//
// Key layout (all ids are encoded through the ident.Strategy):
//
//	r/<revision-id>                                     revision JSON
//	n/[model][document-id]<number:8 BE>                 revision id (number index)
//	u/[user-id]<created:8 BE><revision-id>              revision id (user index)
//	c/<change-id>                                       change JSON
//	l/[revision-id]<change-id>                          change id (revision → changes)
//
// [x] is x preceded by its 4-byte big-endian length, so no variable-width
// part can be a prefix of a longer one.
package kvstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/revtrail/internal/audit"
	"github.com/roach88/revtrail/internal/ident"
	"github.com/roach88/revtrail/internal/store"
)

// Config holds configuration for the BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults for a database at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// ErrDuplicateRevision is returned when a revision number is already taken
// for the same record.
var ErrDuplicateRevision = errors.New("duplicate revision number")

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a BadgerDB audit store. Safe for concurrent use.
type Store struct {
	db   *badger.DB
	keys *ident.Strategy
	now  func() time.Time
}

// Open opens the database described by cfg.
// Only opts.Keys and opts.Now apply; table names have no meaning here.
func Open(cfg Config, opts store.Options) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		bopts = badger.DefaultOptions(cfg.Path)
	}
	bopts = bopts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{db: db, keys: opts.Keys, now: opts.Now}
	if s.keys == nil {
		s.keys = ident.MustNew(ident.PolicyCompact)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Keys returns the identifier strategy the store encodes keys with.
func (s *Store) Keys() *ident.Strategy {
	return s.keys
}

func (s *Store) revisionKey(id string) ([]byte, error) {
	b, err := s.keys.Bytes(id)
	if err != nil {
		return nil, err
	}
	return append([]byte("r/"), b...), nil
}

func (s *Store) changeKey(id string) ([]byte, error) {
	b, err := s.keys.Bytes(id)
	if err != nil {
		return nil, err
	}
	return append([]byte("c/"), b...), nil
}

func (s *Store) numberPrefix(model, documentID string) ([]byte, error) {
	doc, err := s.keys.Bytes(documentID)
	if err != nil {
		return nil, err
	}
	return concat([]byte("n/"), segment([]byte(model)), segment(doc)), nil
}

func (s *Store) linkPrefix(revisionID string) ([]byte, error) {
	b, err := s.keys.Bytes(revisionID)
	if err != nil {
		return nil, err
	}
	return linkPrefixBytes(b), nil
}

func linkPrefixBytes(revision []byte) []byte {
	return concat([]byte("l/"), segment(revision))
}

func userPrefix(userID string) []byte {
	return concat([]byte("u/"), segment([]byte(userID)))
}

// segment length-prefixes b for use inside a composite key.
func segment(b []byte) []byte {
	out := make([]byte, 4, 4+len(b))
	binary.BigEndian.PutUint32(out, uint32(len(b)))
	return append(out, b...)
}

// concat joins key parts into a freshly allocated slice.
func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func be64(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

// WriteRevision stores a revision and its indexes in one transaction.
// Fails with ErrDuplicateRevision if the record already has that number.
func (s *Store) WriteRevision(ctx context.Context, rev audit.Revision) error {
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = s.now()
	}
	if rev.UpdatedAt.IsZero() {
		rev.UpdatedAt = rev.CreatedAt
	}

	key, err := s.revisionKey(rev.ID)
	if err != nil {
		return fmt.Errorf("write revision: id: %w", err)
	}
	prefix, err := s.numberPrefix(rev.Model, rev.DocumentID)
	if err != nil {
		return fmt.Errorf("write revision: document id: %w", err)
	}
	numKey := concat(prefix, be64(rev.Number))

	value, err := json.Marshal(rev)
	if err != nil {
		return fmt.Errorf("write revision: marshal: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("revision %s already exists", rev.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if _, err := txn.Get(numKey); err == nil {
			return fmt.Errorf("%w: %s/%s #%d", ErrDuplicateRevision, rev.Model, rev.DocumentID, rev.Number)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(key, value); err != nil {
			return err
		}
		if err := txn.Set(numKey, key[2:]); err != nil {
			return err
		}
		if rev.UserID != nil {
			userKey := concat(userPrefix(*rev.UserID), be64(rev.CreatedAt.UnixNano()), key[2:])
			if err := txn.Set(userKey, key[2:]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write revision: %w", err)
	}
	return nil
}

// WriteChange stores a change and indexes it under its revision.
// The revision must already exist.
func (s *Store) WriteChange(ctx context.Context, ch audit.Change) error {
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = s.now()
	}
	key, err := s.changeKey(ch.ID)
	if err != nil {
		return fmt.Errorf("write change: id: %w", err)
	}
	revKey, err := s.revisionKey(ch.RevisionID)
	if err != nil {
		return fmt.Errorf("write change: revision id: %w", err)
	}
	value, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("write change: marshal: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := txn.Get(revKey); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("revision %s: %w", ch.RevisionID, store.ErrNotFound)
			}
			return err
		}
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("change %s already exists", ch.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(concat(linkPrefixBytes(revKey[2:]), key[2:]), key[2:])
	})
	if err != nil {
		return fmt.Errorf("write change: %w", err)
	}
	return nil
}

// LinkChange associates a written change with a revision.
// Moves the link when the change pointed at another revision.
func (s *Store) LinkChange(ctx context.Context, revisionID, changeID string) error {
	key, err := s.changeKey(changeID)
	if err != nil {
		return fmt.Errorf("link change: change id: %w", err)
	}
	revKey, err := s.revisionKey(revisionID)
	if err != nil {
		return fmt.Errorf("link change: revision id: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("change %s: %w", changeID, store.ErrNotFound)
			}
			return err
		}
		var ch audit.Change
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &ch) }); err != nil {
			return err
		}
		if ch.RevisionID != revisionID {
			oldRev, err := s.revisionKey(ch.RevisionID)
			if err != nil {
				return err
			}
			if err := txn.Delete(concat(linkPrefixBytes(oldRev[2:]), key[2:])); err != nil {
				return err
			}
			ch.RevisionID = revisionID
			value, err := json.Marshal(ch)
			if err != nil {
				return err
			}
			if err := txn.Set(key, value); err != nil {
				return err
			}
		}
		return txn.Set(concat(linkPrefixBytes(revKey[2:]), key[2:]), key[2:])
	})
	if err != nil {
		return fmt.Errorf("link change: %w", err)
	}
	return nil
}

// ReadRevision retrieves a single revision by ID.
func (s *Store) ReadRevision(ctx context.Context, id string) (audit.Revision, error) {
	key, err := s.revisionKey(id)
	if err != nil {
		return audit.Revision{}, fmt.Errorf("read revision: %w", err)
	}
	var rev audit.Revision
	err = s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, key, &rev)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return audit.Revision{}, fmt.Errorf("read revision %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return audit.Revision{}, fmt.Errorf("read revision: %w", err)
	}
	return rev, nil
}

// ListRevisions returns all revisions of one record ordered by number.
func (s *Store) ListRevisions(ctx context.Context, model, documentID string) ([]audit.Revision, error) {
	prefix, err := s.numberPrefix(model, documentID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	revs, err := s.revisionsUnder(prefix)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	return revs, nil
}

// LatestRevision returns the highest-numbered revision of one record.
func (s *Store) LatestRevision(ctx context.Context, model, documentID string) (audit.Revision, error) {
	revs, err := s.ListRevisions(ctx, model, documentID)
	if err != nil {
		return audit.Revision{}, err
	}
	if len(revs) == 0 {
		return audit.Revision{}, fmt.Errorf("latest revision %s/%s: %w", model, documentID, store.ErrNotFound)
	}
	return revs[len(revs)-1], nil
}

// RevisionsByUser returns every revision attributed to a user, oldest first.
func (s *Store) RevisionsByUser(ctx context.Context, userID string) ([]audit.Revision, error) {
	revs, err := s.revisionsUnder(userPrefix(userID))
	if err != nil {
		return nil, fmt.Errorf("revisions by user: %w", err)
	}
	return revs, nil
}

// ListChanges returns the changes linked to a revision ordered by path.
func (s *Store) ListChanges(ctx context.Context, revisionID string) ([]audit.Change, error) {
	prefix, err := s.linkPrefix(revisionID)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}

	changes := []audit.Change{}
	err = s.db.View(func(txn *badger.Txn) error {
		ids, err := valuesUnder(txn, prefix)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var ch audit.Change
			if err := getJSON(txn, concat([]byte("c/"), id), &ch); err != nil {
				return err
			}
			changes = append(changes, ch)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Path != changes[j].Path {
			return changes[i].Path < changes[j].Path
		}
		return changes[i].ID < changes[j].ID
	})
	return changes, nil
}

// revisionsUnder loads the revisions referenced by an index prefix in key order.
func (s *Store) revisionsUnder(prefix []byte) ([]audit.Revision, error) {
	revs := []audit.Revision{}
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := valuesUnder(txn, prefix)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var rev audit.Revision
			if err := getJSON(txn, concat([]byte("r/"), id), &rev); err != nil {
				return err
			}
			revs = append(revs, rev)
		}
		return nil
	})
	return revs, err
}

func valuesUnder(txn *badger.Txn, prefix []byte) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		v, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func getJSON(txn *badger.Txn, key []byte, dst any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(v []byte) error {
		return json.Unmarshal(v, dst)
	})
}
