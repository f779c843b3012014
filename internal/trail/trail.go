// Package trail wires an audit trail together from configuration: the
// audit store, recorder, revision tracker and record store.
package trail

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/roach88/revtrail/internal/audit"
	"github.com/roach88/revtrail/internal/config"
	"github.com/roach88/revtrail/internal/diff"
	"github.com/roach88/revtrail/internal/ident"
	"github.com/roach88/revtrail/internal/recorder"
	"github.com/roach88/revtrail/internal/records"
	"github.com/roach88/revtrail/internal/revision"
	"github.com/roach88/revtrail/internal/store"
	"github.com/roach88/revtrail/internal/store/kvstore"
)

// AuditStore is the read/write surface shared by both audit store backends.
type AuditStore interface {
	recorder.Store
	ReadRevision(ctx context.Context, id string) (audit.Revision, error)
	ListRevisions(ctx context.Context, model, documentID string) ([]audit.Revision, error)
	LatestRevision(ctx context.Context, model, documentID string) (audit.Revision, error)
	RevisionsByUser(ctx context.Context, userID string) ([]audit.Revision, error)
	ListChanges(ctx context.Context, revisionID string) ([]audit.Change, error)
	Keys() *ident.Strategy
	Close() error
}

var (
	_ AuditStore = (*store.Store)(nil)
	_ AuditStore = (*kvstore.Store)(nil)
)

// Options tunes wiring beyond what the configuration covers.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time

	// IDs replaces the policy's identifier generator.
	IDs ident.Generator

	// Synchronous records each revision before the mutation call returns
	// instead of dispatching it in the background.
	Synchronous bool
}

// Trail is a wired audit trail.
type Trail struct {
	Config   config.Config
	Audit    AuditStore
	Recorder *recorder.Recorder
	Tracker  *revision.Tracker
	Records  *records.Store
}

// Open builds a Trail from cfg.
func Open(cfg config.Config, opts Options) (*Trail, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var keyOpts []ident.Option
	if opts.IDs != nil {
		keyOpts = append(keyOpts, ident.WithGenerator(opts.IDs))
	}
	keys, err := ident.New(cfg.IDPolicy, keyOpts...)
	if err != nil {
		return nil, err
	}

	storeOpts, err := cfg.StoreOptions()
	if err != nil {
		return nil, err
	}
	storeOpts.Keys = keys
	storeOpts.Now = opts.Now

	t := &Trail{Config: cfg}
	var recordsDB string
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		st, err := store.Open(cfg.Store.Path, storeOpts)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		t.Audit = st
	case config.DriverBadger:
		kcfg := kvstore.DefaultConfig(cfg.Store.Path)
		kcfg.InMemory = cfg.Store.InMemory
		kcfg.Logger = opts.Logger
		st, err := kvstore.Open(kcfg, storeOpts)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		t.Audit = st
		recordsDB = ":memory:"
		if !cfg.Store.InMemory {
			recordsDB = filepath.Join(cfg.Store.Path, "records.db")
		}
	}

	recOpts := append([]recorder.Option{
		recorder.WithLogger(opts.Logger),
		recorder.WithClock(opts.Now),
	}, cfg.RecorderOptions()...)
	t.Recorder = recorder.New(t.Audit, keys, recOpts...)

	var d revision.Dispatcher = t.Recorder
	if opts.Synchronous {
		d = syncDispatcher{rec: t.Recorder}
	}
	trackOpts := append([]revision.Option{
		revision.WithLogger(opts.Logger),
		revision.WithClock(opts.Now),
	}, cfg.TrackerOptions()...)
	t.Tracker = revision.NewTracker(d, trackOpts...)

	recordOpts := []records.Option{
		records.WithIDs(keys),
		records.WithClock(opts.Now),
		records.WithLogger(opts.Logger),
	}
	if st, ok := t.Audit.(*store.Store); ok {
		t.Records, err = records.New(st.DB(), t.Tracker, recordOpts...)
	} else {
		t.Records, err = records.Open(recordsDB, t.Tracker, recordOpts...)
	}
	if err != nil {
		t.Audit.Close()
		return nil, fmt.Errorf("open record store: %w", err)
	}
	return t, nil
}

// Close drains in-flight recordings and closes both stores.
func (t *Trail) Close() error {
	t.Recorder.Wait()
	rerr := t.Records.Close()
	aerr := t.Audit.Close()
	if rerr != nil {
		return rerr
	}
	return aerr
}

// History returns a record's revisions with their changes, oldest first.
func (t *Trail) History(ctx context.Context, model, documentID string) ([]Entry, error) {
	t.Recorder.Wait()
	revs, err := t.Audit.ListRevisions(ctx, model, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(revs))
	for _, rev := range revs {
		chs, err := t.Audit.ListChanges(ctx, rev.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Revision: rev, Changes: chs})
	}
	return out, nil
}

// Entry is a revision with its changes.
type Entry struct {
	Revision audit.Revision `json:"revision"`
	Changes  []audit.Change `json:"changes"`
}

// syncDispatcher records inline. Failures are logged by the recorder.
type syncDispatcher struct {
	rec *recorder.Recorder
}

func (d syncDispatcher) Dispatch(ctx context.Context, in audit.RevisionInput, diffs []diff.ChangeDescriptor) {
	_, _ = d.rec.Record(ctx, in, diffs)
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
