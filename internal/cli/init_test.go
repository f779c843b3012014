package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/revtrail/internal/config"
)

func TestInit_WritesConfigAndStore(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "revtrail.yaml")
	dbPath := filepath.Join(dir, "audit.db")

	out, err := execute(t, "init", "--output", cfgPath, "--store", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+cfgPath)
	assert.Contains(t, out, "Created sqlite audit store at "+dbPath)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, dbPath, cfg.Store.Path)
	assert.Equal(t, "revision", cfg.RevisionAttribute)

	_, err = os.Stat(dbPath)
	require.NoError(t, err)
}

func TestInit_RefusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "revtrail.yaml")
	writeFile(t, cfgPath, "exclude: [id]\n")

	_, err := execute(t, "init", "--output", cfgPath, "--store", filepath.Join(dir, "a.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "init", "--output", cfgPath, "--store", filepath.Join(dir, "a.db"), "--force")
	require.NoError(t, err)
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.db"), cfg.Store.Path)
}

func TestInit_BadgerJSON(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "revtrail.yaml")
	dataDir := filepath.Join(dir, "data")

	out, err := execute(t, "init", "--output", cfgPath, "--driver", "badger", "--store", dataDir, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   InitResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, InitResult{ConfigPath: cfgPath, Driver: "badger", StorePath: dataDir}, resp.Data)

	_, err = os.Stat(filepath.Join(dataDir, "records.db"))
	require.NoError(t, err)
}

func TestInit_InvalidDriver(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "init", "--output", filepath.Join(dir, "revtrail.yaml"), "--driver", "postgres")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, statErr := os.Stat(filepath.Join(dir, "revtrail.yaml"))
	assert.True(t, os.IsNotExist(statErr))
}
