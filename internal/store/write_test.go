package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revtrail/internal/audit"
	"github.com/roach88/revtrail/internal/ident"
)

func TestWriteRevision_RoundTrip(t *testing.T) {
	for _, policy := range []ident.Policy{ident.PolicyCompact, ident.PolicyUUID} {
		t.Run(string(policy), func(t *testing.T) {
			s := createTestStore(t, policy)
			ctx := context.Background()

			docID := s.Keys().NewID()
			user := "user-7"
			rev := createTestRevision(s, "users", docID, 1)
			rev.UserID = &user

			require.NoError(t, s.WriteRevision(ctx, rev))

			got, err := s.ReadRevision(ctx, rev.ID)
			require.NoError(t, err)
			assert.Equal(t, rev.ID, got.ID)
			assert.Equal(t, "users", got.Model)
			assert.Equal(t, docID, got.DocumentID)
			assert.Equal(t, int64(1), got.Number)
			assert.Equal(t, `{"name":"Alice"}`, got.Snapshot)
			require.NotNil(t, got.UserID)
			assert.Equal(t, "user-7", *got.UserID)
			assert.True(t, got.CreatedAt.Equal(testNow))
			assert.True(t, got.UpdatedAt.Equal(testNow))
		})
	}
}

func TestWriteRevision_CompactStoresBinaryKeys(t *testing.T) {
	s := createTestStore(t, ident.PolicyCompact)
	rev := createTestRevision(s, "users", s.Keys().NewID(), 1)
	require.NoError(t, s.WriteRevision(context.Background(), rev))

	var kind string
	var length int
	err := s.db.QueryRow(`SELECT typeof(id), length(id) FROM "revisions"`).Scan(&kind, &length)
	require.NoError(t, err)
	assert.Equal(t, "blob", kind)
	assert.Equal(t, 16, length)
}

func TestWriteRevision_DuplicateNumberRejected(t *testing.T) {
	s := createTestStore(t, ident.PolicyUUID)
	ctx := context.Background()

	require.NoError(t, s.WriteRevision(ctx, createTestRevision(s, "users", "doc-1", 1)))
	err := s.WriteRevision(ctx, createTestRevision(s, "users", "doc-1", 1))
	assert.Error(t, err)

	// Same number on another record is fine.
	require.NoError(t, s.WriteRevision(ctx, createTestRevision(s, "users", "doc-2", 1)))
}

func TestWriteRevision_InvalidDocumentKey(t *testing.T) {
	s := createTestStore(t, ident.PolicyCompact)
	err := s.WriteRevision(context.Background(), createTestRevision(s, "users", "not-hex", 1))
	assert.True(t, errors.Is(err, ident.ErrInvalidKey))
}

func TestWriteChange_RequiresRevision(t *testing.T) {
	s := createTestStore(t, ident.PolicyUUID)
	err := s.WriteChange(context.Background(), audit.Change{
		ID:         s.Keys().NewID(),
		Path:       "name",
		Document:   `{}`,
		RevisionID: s.Keys().NewID(),
	})
	assert.Error(t, err, "foreign key must reject a change without its revision")
}

func TestWriteChange_AndLink(t *testing.T) {
	s := createTestStore(t, ident.PolicyCompact)
	ctx := context.Background()

	rev := createTestRevision(s, "users", s.Keys().NewID(), 1)
	require.NoError(t, s.WriteRevision(ctx, rev))

	ch := audit.Change{
		ID:         s.Keys().NewID(),
		Path:       "name",
		Document:   `{"kind":"N","path":["name"],"rhs":"Alice"}`,
		Diff:       `[{"value":"Alice","count":5,"added":true}]`,
		RevisionID: rev.ID,
	}
	require.NoError(t, s.WriteChange(ctx, ch))
	require.NoError(t, s.LinkChange(ctx, rev.ID, ch.ID))
	require.NoError(t, s.LinkChange(ctx, rev.ID, ch.ID), "relinking is idempotent")

	changes, err := s.ListChanges(ctx, rev.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, ch.ID, changes[0].ID)
	assert.Equal(t, rev.ID, changes[0].RevisionID)
	assert.Equal(t, ch.Document, changes[0].Document)
	assert.Equal(t, ch.Diff, changes[0].Diff)
}

func TestLinkChange_Missing(t *testing.T) {
	s := createTestStore(t, ident.PolicyUUID)
	err := s.LinkChange(context.Background(), "rev", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
