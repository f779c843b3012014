package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revtrail/internal/ident"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "revtrail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"id", "createdAt", "updatedAt"}, cfg.Exclude)
	assert.Equal(t, "revision", cfg.RevisionAttribute)
	assert.Equal(t, "revisions", cfg.RevisionModel)
	assert.Equal(t, "revisionChanges", cfg.RevisionChangeModel)
	assert.Equal(t, ident.PolicyCompact, cfg.IDPolicy)
	assert.Equal(t, "_", cfg.InternalMarker)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
exclude: [id, secret]
revision_attribute: version
id_policy: uuid
user_model: users
store:
  driver: badger
  in_memory: true
recorder:
  max_concurrency: 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "secret"}, cfg.Exclude)
	assert.Equal(t, "version", cfg.RevisionAttribute)
	assert.Equal(t, "revisions", cfg.RevisionModel, "unset fields keep defaults")
	assert.Equal(t, ident.PolicyUUID, cfg.IDPolicy)
	assert.Equal(t, "users", cfg.UserModel)
	assert.Equal(t, DriverBadger, cfg.Store.Driver)
	assert.True(t, cfg.Store.InMemory)
	assert.Equal(t, 2, cfg.Recorder.MaxConcurrency)
	assert.Len(t, cfg.RecorderOptions(), 2)
	assert.Len(t, cfg.TrackerOptions(), 3)
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, "revision_atribute: version\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv(EnvStorePath, "/tmp/override.db")
	cfg, err := Load(writeConfig(t, "store:\n  path: local.db\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Store.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty attribute", func(c *Config) { c.RevisionAttribute = "" }, "revision_attribute"},
		{"same tables", func(c *Config) { c.RevisionChangeModel = c.RevisionModel }, "must differ"},
		{"bad policy", func(c *Config) { c.IDPolicy = "snowflake" }, "id_policy"},
		{"bad driver", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver"},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"sqlite in memory", func(c *Config) { c.Store.InMemory = true }, "in_memory"},
		{"badger without path", func(c *Config) { c.Store.Driver = DriverBadger; c.Store.Path = "" }, "store.path or store.in_memory"},
		{"negative concurrency", func(c *Config) { c.Recorder.MaxConcurrency = -1 }, "max_concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.UserModel = "users"
	data, err := cfg.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func TestStoreOptions(t *testing.T) {
	cfg := Default()
	cfg.IDPolicy = ident.PolicyUUID
	cfg.RevisionModel = "history"

	opts, err := cfg.StoreOptions()
	require.NoError(t, err)
	assert.Equal(t, "history", opts.RevisionTable)
	assert.Equal(t, "revisionChanges", opts.ChangeTable)
	assert.Equal(t, ident.PolicyUUID, opts.Keys.Policy())
}
