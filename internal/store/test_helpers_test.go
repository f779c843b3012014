package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/revtrail/internal/audit"
	"github.com/roach88/revtrail/internal/ident"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T, policy ident.Policy) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path, Options{
		Keys: ident.MustNew(policy),
		Now:  func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRevision creates a revision with minimal required fields.
func createTestRevision(s *Store, model, documentID string, number int64) audit.Revision {
	return audit.Revision{
		ID:         s.Keys().NewID(),
		Model:      model,
		DocumentID: documentID,
		Number:     number,
		Snapshot:   `{"name":"Alice"}`,
	}
}
