package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/revtrail/internal/audit"
	"github.com/roach88/revtrail/internal/diff"
)

// Store is the audit store the recorder writes to.
// Implemented by store.Store and kvstore.Store.
type Store interface {
	WriteRevision(ctx context.Context, rev audit.Revision) error
	WriteChange(ctx context.Context, ch audit.Change) error
	LinkChange(ctx context.Context, revisionID, changeID string) error
}

// IDSource produces identifiers for revisions and changes.
// Implemented by ident.Strategy.
type IDSource interface {
	NewID() string
}

// DefaultMaxConcurrency bounds concurrent change writes per revision.
const DefaultMaxConcurrency = 8

// Recorder turns a diff into persisted audit records.
// Safe for concurrent use.
type Recorder struct {
	store          Store
	ids            IDSource
	logger         *slog.Logger
	now            func() time.Time
	userModel      string
	maxConcurrency int

	wg sync.WaitGroup
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger for write failures. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = l
	}
}

// WithClock sets the timestamp source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithUserModel enables the user association. Without it, revisions never
// carry a user id.
func WithUserModel(name string) Option {
	return func(r *Recorder) {
		r.userModel = name
	}
}

// WithMaxConcurrency bounds concurrent change writes. Values below 1 mean
// unbounded.
func WithMaxConcurrency(n int) Option {
	return func(r *Recorder) {
		r.maxConcurrency = n
	}
}

// New creates a Recorder writing to st with identifiers from ids.
func New(st Store, ids IDSource, opts ...Option) *Recorder {
	r := &Recorder{
		store:          st,
		ids:            ids,
		logger:         slog.Default(),
		now:            time.Now,
		maxConcurrency: DefaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result summarises one recording.
type Result struct {
	RevisionID     string
	ChangesWritten int
	ChangesFailed  int
}

// Record writes the revision, then every change concurrently, and waits for
// all of them. An error means the revision itself was not written; change
// failures are logged and counted in the result.
//
// An empty diff records nothing.
func (r *Recorder) Record(ctx context.Context, in audit.RevisionInput, diffs []diff.ChangeDescriptor) (Result, error) {
	if len(diffs) == 0 {
		return Result{}, nil
	}
	start := r.now()

	rev, err := r.buildRevision(in)
	if err != nil {
		revisionWrites.WithLabelValues(in.Model, resultError).Inc()
		r.logger.Error("audit revision build failed",
			"model", in.Model, "document_id", in.DocumentID, "revision", in.Number, "err", err)
		return Result{}, err
	}

	if err := r.store.WriteRevision(ctx, rev); err != nil {
		revisionWrites.WithLabelValues(in.Model, resultError).Inc()
		r.logger.Error("audit revision write failed",
			"model", in.Model, "document_id", in.DocumentID, "revision", in.Number,
			"revision_id", rev.ID, "changes", len(diffs), "err", err)
		return Result{}, fmt.Errorf("record revision: %w", err)
	}
	revisionWrites.WithLabelValues(in.Model, resultOK).Inc()

	var written, failed atomic.Int64
	g := new(errgroup.Group)
	if r.maxConcurrency > 0 {
		g.SetLimit(r.maxConcurrency)
	}
	for _, d := range diffs {
		g.Go(func() error {
			if err := r.writeChange(ctx, rev, d); err != nil {
				failed.Add(1)
				changeWrites.WithLabelValues(in.Model, resultError).Inc()
				r.logger.Error("audit change write failed",
					"model", in.Model, "document_id", in.DocumentID, "revision", in.Number,
					"revision_id", rev.ID, "path", d.Path.Field(), "err", err)
				return nil
			}
			written.Add(1)
			changeWrites.WithLabelValues(in.Model, resultOK).Inc()
			return nil
		})
	}
	_ = g.Wait() // tasks never return errors

	recordDuration.WithLabelValues(in.Model).Observe(r.now().Sub(start).Seconds())
	r.logger.Debug("audit revision recorded",
		"model", in.Model, "document_id", in.DocumentID, "revision", in.Number,
		"revision_id", rev.ID, "changes", written.Load(), "failed", failed.Load())

	return Result{
		RevisionID:     rev.ID,
		ChangesWritten: int(written.Load()),
		ChangesFailed:  int(failed.Load()),
	}, nil
}

// Dispatch records in the background and returns immediately.
// The recording outlives ctx cancellation; use Wait to drain it.
func (r *Recorder) Dispatch(ctx context.Context, in audit.RevisionInput, diffs []diff.ChangeDescriptor) {
	if len(diffs) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	r.wg.Add(1)
	inflight.Inc()
	go func() {
		defer r.wg.Done()
		defer inflight.Dec()
		// Failures are logged inside Record.
		_, _ = r.Record(detached, in, diffs)
	}()
}

// Wait blocks until every dispatched recording has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) buildRevision(in audit.RevisionInput) (audit.Revision, error) {
	snapshot, err := marshalSnapshot(in.Snapshot)
	if err != nil {
		return audit.Revision{}, err
	}
	now := r.now()
	rev := audit.Revision{
		ID:         r.ids.NewID(),
		Model:      in.Model,
		DocumentID: in.DocumentID,
		Number:     in.Number,
		Snapshot:   snapshot,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if r.userModel != "" && in.Actor != nil && in.Actor.ID != "" {
		uid := in.Actor.ID
		rev.UserID = &uid
	}
	return rev, nil
}

func (r *Recorder) writeChange(ctx context.Context, rev audit.Revision, d diff.ChangeDescriptor) error {
	doc, err := d.MarshalDocument()
	if err != nil {
		return err
	}
	text, err := diff.TextDiff(d)
	if err != nil {
		return err
	}

	ch := audit.Change{
		ID:         r.ids.NewID(),
		Path:       d.Path.Field(),
		Document:   doc,
		Diff:       text,
		RevisionID: rev.ID,
		CreatedAt:  r.now(),
	}
	if err := r.store.WriteChange(ctx, ch); err != nil {
		return fmt.Errorf("write change %s: %w", ch.ID, err)
	}
	if err := r.store.LinkChange(ctx, rev.ID, ch.ID); err != nil {
		return fmt.Errorf("link change %s: %w", ch.ID, err)
	}
	return nil
}

// marshalSnapshot serialises the committed record with HTML escaping
// disabled so stored text matches the record's values.
func marshalSnapshot(snapshot map[string]any) (string, error) {
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snapshot); err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
