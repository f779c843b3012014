package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revtrail/internal/ident"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path, Options{})
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}

	s, err := Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{DefaultRevisionTable, DefaultChangeTable} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t, ident.PolicyCompact)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_CustomTableNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, Options{RevisionTable: "history", ChangeTable: "history_changes"})
	require.NoError(t, err)
	defer s.Close()

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM "history"`).Scan(&count))
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM "history_changes"`).Scan(&count))
}

func TestOpen_RejectsBadTableNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	_, err := Open(path, Options{RevisionTable: `x"; DROP TABLE y; --`})
	assert.Error(t, err)

	_, err = Open(path, Options{RevisionTable: "same", ChangeTable: "same"})
	assert.Error(t, err)
}

func TestRenderSchema_KeyTypeFollowsPolicy(t *testing.T) {
	for policy, keyType := range map[ident.Policy]string{
		ident.PolicyCompact: "BLOB",
		ident.PolicyUUID:    "TEXT",
	} {
		opts := Options{Keys: ident.MustNew(policy)}
		require.NoError(t, opts.setDefaults())

		sql, err := renderSchema(opts)
		require.NoError(t, err)
		assert.Contains(t, sql, "id          "+keyType+" PRIMARY KEY")
		assert.Contains(t, sql, "revision_id "+keyType+" NOT NULL")
		assert.True(t, strings.Contains(sql, `"revisionChanges"`))
	}
}
