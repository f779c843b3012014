package revision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/revtrail/internal/audit"
	"github.com/roach88/revtrail/internal/diff"
)

// Operation is the kind of mutation a hook is invoked for.
type Operation string

const (
	OpCreate     Operation = "CREATE"
	OpUpdate     Operation = "UPDATE"
	OpDelete     Operation = "DELETE"
	OpBulkDelete Operation = "BULKDELETE"
)

// IsDelete reports whether op destroys the record.
func (op Operation) IsDelete() bool {
	return op == OpDelete || op == OpBulkDelete
}

// State is the outcome of a Before* hook.
type State string

const (
	// StateAudited means the counter was bumped and a revision will be
	// recorded after commit.
	StateAudited State = "AUDITED"

	// StateSkipped means nothing audit-worthy changed.
	StateSkipped State = "SKIPPED"
)

// DeletedAtField is the synthetic field compared for deletes.
const DeletedAtField = "deletedAt"

// DefaultRevisionAttribute is the counter attribute name.
const DefaultRevisionAttribute = "revision"

// DefaultExclude lists the fields never diffed. The revision attribute is
// always excluded in addition to these.
var DefaultExclude = []string{"id", "createdAt", "updatedAt"}

// Mutation is what the host hands to a Before* hook.
//
// Current is modified in place: the revision attribute is reset to the
// prior counter and, when audited, bumped. The host persists Current.
type Mutation struct {
	Op         Operation
	Model      string
	DocumentID string
	Previous   map[string]any // committed attributes, nil on create
	Current    map[string]any // attributes about to be written
	User       *audit.Actor   // from the operation descriptor
}

// Pending carries a Before* hook's decision to the matching After* hook.
type Pending struct {
	State      State
	Op         Operation
	Model      string
	DocumentID string
	Prior      int64 // counter before the mutation
	Number     int64 // counter after the mutation
	Diffs      []diff.ChangeDescriptor
	Actor      *audit.Actor
}

// Audited reports whether a revision will be recorded.
func (p Pending) Audited() bool {
	return p.State == StateAudited
}

// Dispatcher hands an audited mutation to the persistence side.
// Implemented by recorder.Recorder.
type Dispatcher interface {
	Dispatch(ctx context.Context, in audit.RevisionInput, diffs []diff.ChangeDescriptor)
}

// Interceptor is the hook set a host record store invokes around a commit.
type Interceptor interface {
	BeforeCreate(ctx context.Context, m *Mutation) (Pending, error)
	BeforeUpdate(ctx context.Context, m *Mutation) (Pending, error)
	BeforeDestroy(ctx context.Context, m *Mutation) (Pending, error)
	AfterCreate(ctx context.Context, p Pending, committed map[string]any)
	AfterUpdate(ctx context.Context, p Pending, committed map[string]any)
	AfterDestroy(ctx context.Context, p Pending, committed map[string]any)
}

type actorKey struct{}

// WithActor returns a context carrying the acting user.
func WithActor(ctx context.Context, a audit.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the acting user stored in ctx, if any.
func ActorFrom(ctx context.Context) (audit.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(audit.Actor)
	return a, ok
}

// Tracker implements Interceptor. Safe for concurrent use.
type Tracker struct {
	dispatcher Dispatcher
	exclude    []string
	marker     string
	attr       string
	now        func() time.Time
	logger     *slog.Logger
	locks      *KeyedMutex
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithExclude replaces the default exclusion set. The revision attribute
// stays excluded.
func WithExclude(fields ...string) Option {
	return func(t *Tracker) {
		t.exclude = append([]string(nil), fields...)
	}
}

// WithRevisionAttribute renames the counter attribute.
func WithRevisionAttribute(name string) Option {
	return func(t *Tracker) {
		t.attr = name
	}
}

// WithInternalMarker sets the prefix of never-audited fields.
func WithInternalMarker(marker string) Option {
	return func(t *Tracker) {
		t.marker = marker
	}
}

// WithClock sets the time source for synthetic delete timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// NewTracker creates a Tracker handing audited mutations to d.
func NewTracker(d Dispatcher, opts ...Option) *Tracker {
	t := &Tracker{
		dispatcher: d,
		exclude:    append([]string(nil), DefaultExclude...),
		marker:     diff.DefaultInternalMarker,
		attr:       DefaultRevisionAttribute,
		now:        time.Now,
		logger:     slog.Default(),
		locks:      NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RevisionAttribute returns the counter attribute name.
func (t *Tracker) RevisionAttribute() string {
	return t.attr
}

// Lock serialises mutations of one record and returns the release function.
// Hosts hold it from the Before* hook until the commit finishes.
func (t *Tracker) Lock(model, documentID string) (unlock func()) {
	return t.locks.Lock(model + "\x00" + documentID)
}

func (t *Tracker) filter() diff.Filter {
	exclude := append([]string(nil), t.exclude...)
	exclude = append(exclude, t.attr)
	return diff.Filter{Exclude: exclude, InternalMarker: t.marker}
}

// BeforeCreate runs before a new record is inserted.
func (t *Tracker) BeforeCreate(ctx context.Context, m *Mutation) (Pending, error) {
	return t.before(ctx, m)
}

// BeforeUpdate runs before an existing record is overwritten.
func (t *Tracker) BeforeUpdate(ctx context.Context, m *Mutation) (Pending, error) {
	return t.before(ctx, m)
}

// BeforeDestroy runs before a record is deleted. Deletes are always audited.
func (t *Tracker) BeforeDestroy(ctx context.Context, m *Mutation) (Pending, error) {
	return t.before(ctx, m)
}

func (t *Tracker) before(ctx context.Context, m *Mutation) (Pending, error) {
	prior, err := counterValue(m.Previous[t.attr])
	if err != nil {
		return Pending{}, &HookError{Code: ErrCodeInvalidCounter, Model: m.Model, DocumentID: m.DocumentID, Err: err}
	}
	if m.Current == nil {
		m.Current = make(map[string]any)
	}
	// Any externally supplied counter is discarded.
	m.Current[t.attr] = prior

	var diffs []diff.ChangeDescriptor
	if m.Op.IsDelete() {
		// The synthetic pair is never filtered so a delete always yields a change.
		diffs, err = diff.Filter{}.Compute(
			map[string]any{DeletedAtField: nil},
			map[string]any{DeletedAtField: t.now().UTC().Format(time.RFC3339Nano)},
		)
	} else {
		diffs, err = t.filter().Compute(m.Previous, m.Current)
	}
	if err != nil {
		return Pending{}, &HookError{Code: ErrCodeMalformedSnapshot, Model: m.Model, DocumentID: m.DocumentID, Err: err}
	}

	p := Pending{
		Op:         m.Op,
		Model:      m.Model,
		DocumentID: m.DocumentID,
		Prior:      prior,
		Number:     prior,
		Actor:      resolveActor(ctx, m.User),
	}
	if len(diffs) == 0 && !m.Op.IsDelete() {
		p.State = StateSkipped
		t.logger.Debug("mutation skipped", "model", m.Model, "document_id", m.DocumentID, "op", m.Op)
		return p, nil
	}

	p.State = StateAudited
	p.Number = prior + 1
	p.Diffs = diffs
	m.Current[t.attr] = p.Number
	return p, nil
}

// AfterCreate records the revision of a committed insert.
func (t *Tracker) AfterCreate(ctx context.Context, p Pending, committed map[string]any) {
	t.after(ctx, p, committed)
}

// AfterUpdate records the revision of a committed update.
func (t *Tracker) AfterUpdate(ctx context.Context, p Pending, committed map[string]any) {
	t.after(ctx, p, committed)
}

// AfterDestroy records the revision of a committed delete.
func (t *Tracker) AfterDestroy(ctx context.Context, p Pending, committed map[string]any) {
	t.after(ctx, p, committed)
}

func (t *Tracker) after(ctx context.Context, p Pending, committed map[string]any) {
	if !p.Audited() || len(p.Diffs) == 0 {
		return
	}
	t.dispatcher.Dispatch(ctx, audit.RevisionInput{
		Model:      p.Model,
		DocumentID: p.DocumentID,
		Number:     p.Number,
		Snapshot:   committed,
		Actor:      p.Actor,
	}, p.Diffs)
}

// resolveActor prefers the operation's user over the context's.
func resolveActor(ctx context.Context, user *audit.Actor) *audit.Actor {
	if user != nil && user.ID != "" {
		a := *user
		return &a
	}
	if a, ok := ActorFrom(ctx); ok && a.ID != "" {
		return &a
	}
	return nil
}

// counterValue reads a stored counter. Absent means zero.
func counterValue(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("revision counter %v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("revision counter %q: %w", n, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("revision counter has type %T", v)
	}
}
