package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revtrail/internal/audit"
	"github.com/roach88/revtrail/internal/diff"
	"github.com/roach88/revtrail/internal/ident"
	"github.com/roach88/revtrail/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeStore records calls and fails on demand.
type fakeStore struct {
	mu           sync.Mutex
	events       []string
	revisions    []audit.Revision
	changes      []audit.Change
	links        map[string]string
	failRevision bool
	failPaths    map[string]bool
	failLink     bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{links: map[string]string{}, failPaths: map[string]bool{}}
}

func (f *fakeStore) WriteRevision(ctx context.Context, rev audit.Revision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRevision {
		return errors.New("disk full")
	}
	f.events = append(f.events, "revision")
	f.revisions = append(f.revisions, rev)
	return nil
}

func (f *fakeStore) WriteChange(ctx context.Context, ch audit.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPaths[ch.Path] {
		return errors.New("constraint violation")
	}
	f.events = append(f.events, "change:"+ch.Path)
	f.changes = append(f.changes, ch)
	return nil
}

func (f *fakeStore) LinkChange(ctx context.Context, revisionID, changeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLink {
		return errors.New("link failed")
	}
	f.links[changeID] = revisionID
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRecorder(st Store, opts ...Option) *Recorder {
	base := []Option{
		WithLogger(discardLogger()),
		WithClock(func() time.Time { return testNow }),
	}
	return New(st, ident.MustNew(ident.PolicyUUID), append(base, opts...)...)
}

func computeDiffs(t *testing.T, previous, current map[string]any) []diff.ChangeDescriptor {
	t.Helper()
	diffs, err := diff.Compute(previous, current, []string{"id", "createdAt", "updatedAt", "revision"})
	require.NoError(t, err)
	return diffs
}

func aliceInput() audit.RevisionInput {
	return audit.RevisionInput{
		Model:      "users",
		DocumentID: "doc-1",
		Number:     1,
		Snapshot:   map[string]any{"id": "doc-1", "name": "Alice", "age": 30, "revision": 1},
	}
}

func TestRecord_RevisionThenChanges(t *testing.T) {
	st := newFakeStore()
	rec := newTestRecorder(st)

	diffs := computeDiffs(t, nil, map[string]any{"name": "Alice", "age": 30})
	res, err := rec.Record(context.Background(), aliceInput(), diffs)
	require.NoError(t, err)

	assert.Equal(t, 2, res.ChangesWritten)
	assert.Equal(t, 0, res.ChangesFailed)
	require.Len(t, st.revisions, 1)
	require.Len(t, st.changes, 2)
	assert.Equal(t, "revision", st.events[0])
	assert.ElementsMatch(t, []string{"change:name", "change:age"}, st.events[1:])

	rev := st.revisions[0]
	assert.Equal(t, res.RevisionID, rev.ID)
	assert.Equal(t, "users", rev.Model)
	assert.Equal(t, "doc-1", rev.DocumentID)
	assert.Equal(t, int64(1), rev.Number)
	assert.JSONEq(t, `{"id":"doc-1","name":"Alice","age":30,"revision":1}`, rev.Snapshot)
	assert.Nil(t, rev.UserID)
	assert.True(t, rev.CreatedAt.Equal(testNow))

	for _, ch := range st.changes {
		assert.Equal(t, rev.ID, ch.RevisionID)
		assert.Equal(t, rev.ID, st.links[ch.ID], "change must be linked to its revision")

		d, err := diff.UnmarshalDocument(ch.Document)
		require.NoError(t, err)
		assert.Equal(t, ch.Path, d.Path.Field())
		assert.NotEmpty(t, ch.Diff)
	}
}

func TestRecord_EmptyDiffRecordsNothing(t *testing.T) {
	st := newFakeStore()
	rec := newTestRecorder(st)

	res, err := rec.Record(context.Background(), aliceInput(), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, st.events)
}

func TestRecord_RevisionFailureAbandonsChanges(t *testing.T) {
	st := newFakeStore()
	st.failRevision = true
	var logs bytes.Buffer
	rec := newTestRecorder(st, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	before := testutil.ToFloat64(revisionWrites.WithLabelValues("users", resultError))
	_, err := rec.Record(context.Background(), aliceInput(), computeDiffs(t, nil, map[string]any{"name": "Alice"}))
	require.Error(t, err)

	assert.Empty(t, st.changes)
	assert.Contains(t, logs.String(), "audit revision write failed")
	assert.Contains(t, logs.String(), "document_id=doc-1")
	assert.Equal(t, before+1, testutil.ToFloat64(revisionWrites.WithLabelValues("users", resultError)))
}

func TestRecord_ChangeFailureIsolated(t *testing.T) {
	st := newFakeStore()
	st.failPaths["age"] = true
	var logs bytes.Buffer
	rec := newTestRecorder(st, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	before := testutil.ToFloat64(changeWrites.WithLabelValues("users", resultError))
	res, err := rec.Record(context.Background(), aliceInput(), computeDiffs(t, nil, map[string]any{"name": "Alice", "age": 30}))
	require.NoError(t, err, "change failures never fail the recording")

	assert.Equal(t, 1, res.ChangesWritten)
	assert.Equal(t, 1, res.ChangesFailed)
	require.Len(t, st.revisions, 1, "revision is kept")
	require.Len(t, st.changes, 1)
	assert.Equal(t, "name", st.changes[0].Path)

	out := logs.String()
	assert.Contains(t, out, "audit change write failed")
	assert.Contains(t, out, "path=age")
	assert.Contains(t, out, "revision=1")
	assert.Equal(t, before+1, testutil.ToFloat64(changeWrites.WithLabelValues("users", resultError)))
}

func TestRecord_LinkFailureCounted(t *testing.T) {
	st := newFakeStore()
	st.failLink = true
	rec := newTestRecorder(st)

	res, err := rec.Record(context.Background(), aliceInput(), computeDiffs(t, nil, map[string]any{"name": "Alice"}))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ChangesWritten)
	assert.Equal(t, 1, res.ChangesFailed)
}

func TestRecord_UserAssociation(t *testing.T) {
	in := aliceInput()
	in.Actor = &audit.Actor{ID: "user-9"}
	diffs := computeDiffs(t, nil, map[string]any{"name": "Alice"})

	st := newFakeStore()
	_, err := newTestRecorder(st).Record(context.Background(), in, diffs)
	require.NoError(t, err)
	assert.Nil(t, st.revisions[0].UserID, "no user model configured")

	st = newFakeStore()
	_, err = newTestRecorder(st, WithUserModel("users")).Record(context.Background(), in, diffs)
	require.NoError(t, err)
	require.NotNil(t, st.revisions[0].UserID)
	assert.Equal(t, "user-9", *st.revisions[0].UserID)
}

func TestRecord_EmptyValuesStoreEmptyDiff(t *testing.T) {
	st := newFakeStore()
	rec := newTestRecorder(st)

	diffs := computeDiffs(t, map[string]any{"note": nil}, map[string]any{"note": ""})
	require.Len(t, diffs, 1)
	_, err := rec.Record(context.Background(), aliceInput(), diffs)
	require.NoError(t, err)
	require.Len(t, st.changes, 1)
	assert.Equal(t, "", st.changes[0].Diff)
}

func TestRecord_MalformedSnapshot(t *testing.T) {
	st := newFakeStore()
	rec := newTestRecorder(st)

	in := aliceInput()
	in.Snapshot = map[string]any{"fn": func() {}}
	_, err := rec.Record(context.Background(), in, computeDiffs(t, nil, map[string]any{"name": "Alice"}))
	assert.Error(t, err)
	assert.Empty(t, st.events)
}

func TestDispatch_Wait(t *testing.T) {
	st := newFakeStore()
	rec := newTestRecorder(st, WithMaxConcurrency(1))

	ctx, cancel := context.WithCancel(context.Background())
	for i := 1; i <= 5; i++ {
		in := aliceInput()
		in.Number = int64(i)
		rec.Dispatch(ctx, in, computeDiffs(t, nil, map[string]any{"name": "Alice", "age": i}))
	}
	cancel() // dispatched work is detached from the caller's context
	rec.Wait()

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Len(t, st.revisions, 5)
	assert.Len(t, st.changes, 10)
}

func TestRecord_SQLiteStore(t *testing.T) {
	keys := ident.MustNew(ident.PolicyCompact)
	st, err := store.Open(filepath.Join(t.TempDir(), "audit.db"), store.Options{Keys: keys})
	require.NoError(t, err)
	defer st.Close()

	rec := New(st, keys, WithLogger(discardLogger()))
	ctx := context.Background()
	doc := keys.NewID()

	in := aliceInput()
	in.DocumentID = doc
	res, err := rec.Record(ctx, in, computeDiffs(t, nil, map[string]any{"name": "Alice", "age": 30}))
	require.NoError(t, err)
	assert.Equal(t, 2, res.ChangesWritten)

	changes, err := st.ListChanges(ctx, res.RevisionID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "age", changes[0].Path)
	assert.Equal(t, "name", changes[1].Path)

	var ops []audit.TextOp
	require.NoError(t, json.Unmarshal([]byte(changes[0].Diff), &ops))
	assert.Equal(t, []audit.TextOp{{Value: "30", Count: 2, Added: true}}, ops)
}
