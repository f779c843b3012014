package store

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"text/template"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/revtrail/internal/ident"
)

//go:embed schema.sql.tmpl
var schemaTemplate string

// Schema version tracking:
// 1 - Initial revisions + revision changes schema
const currentSchemaVersion = 1

const (
	DefaultRevisionTable = "revisions"
	DefaultChangeTable   = "revisionChanges"
)

// ErrNotFound is returned when a requested revision or change does not exist.
var ErrNotFound = errors.New("not found")

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configures table names, key encoding and the write clock.
type Options struct {
	RevisionTable string
	ChangeTable   string

	// Keys encodes identifiers. Defaults to the compact policy.
	Keys *ident.Strategy

	// Now stamps created_at/updated_at when a record carries a zero time.
	// Defaults to time.Now.
	Now func() time.Time
}

func (o *Options) setDefaults() error {
	if o.RevisionTable == "" {
		o.RevisionTable = DefaultRevisionTable
	}
	if o.ChangeTable == "" {
		o.ChangeTable = DefaultChangeTable
	}
	for _, name := range []string{o.RevisionTable, o.ChangeTable} {
		if !tableName.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	if o.RevisionTable == o.ChangeTable {
		return fmt.Errorf("revision and change tables must differ (both %q)", o.RevisionTable)
	}
	if o.Keys == nil {
		o.Keys = ident.MustNew(ident.PolicyCompact)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return nil
}

// Store provides durable storage for revisions and their changes.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db   *sql.DB
	opts Options
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the schema automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts Options) (*Store, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db, opts); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, opts: opts}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Keys returns the identifier strategy the store encodes keys with.
func (s *Store) Keys() *ident.Strategy {
	return s.opts.Keys
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// renderSchema fills the schema template for the configured tables and key type.
func renderSchema(opts Options) (string, error) {
	tmpl, err := template.New("schema").Parse(schemaTemplate)
	if err != nil {
		return "", fmt.Errorf("parse schema template: %w", err)
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct {
		Revisions string
		Changes   string
		KeyType   string
	}{
		Revisions: opts.RevisionTable,
		Changes:   opts.ChangeTable,
		KeyType:   opts.Keys.ColumnType(),
	})
	if err != nil {
		return "", fmt.Errorf("render schema template: %w", err)
	}
	return buf.String(), nil
}

// applySchema creates tables if they don't exist and records the schema version.
func applySchema(db *sql.DB, opts Options) error {
	schemaSQL, err := renderSchema(opts)
	if err != nil {
		return err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
