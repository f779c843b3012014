// Package config loads revtrail settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/revtrail/internal/diff"
	"github.com/roach88/revtrail/internal/ident"
	"github.com/roach88/revtrail/internal/recorder"
	"github.com/roach88/revtrail/internal/revision"
	"github.com/roach88/revtrail/internal/store"
)

// EnvStorePath overrides Store.Path when set.
const EnvStorePath = "REVTRAIL_STORE_PATH"

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// Config is the full revtrail configuration.
type Config struct {
	// Exclude lists fields never diffed. The revision attribute is always
	// excluded on top of these.
	Exclude []string `yaml:"exclude"`

	RevisionAttribute   string       `yaml:"revision_attribute"`
	RevisionModel       string       `yaml:"revision_model"`
	RevisionChangeModel string       `yaml:"revision_change_model"`
	IDPolicy            ident.Policy `yaml:"id_policy"`

	// UserModel enables the revision user association when set.
	UserModel string `yaml:"user_model,omitempty"`

	InternalMarker string `yaml:"internal_marker"`

	Store    StoreConfig    `yaml:"store"`
	Recorder RecorderConfig `yaml:"recorder"`
}

// StoreConfig selects the audit store backend.
type StoreConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory,omitempty"`
}

// RecorderConfig tunes the persistence side.
type RecorderConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Exclude:             append([]string(nil), revision.DefaultExclude...),
		RevisionAttribute:   revision.DefaultRevisionAttribute,
		RevisionModel:       store.DefaultRevisionTable,
		RevisionChangeModel: store.DefaultChangeTable,
		IDPolicy:            ident.PolicyCompact,
		InternalMarker:      diff.DefaultInternalMarker,
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   "revtrail.db",
		},
		Recorder: RecorderConfig{
			MaxConcurrency: recorder.DefaultMaxConcurrency,
		},
	}
}

// Load reads path over the defaults, applies the environment override and
// validates the result. Unknown fields are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, applies the environment override
// and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides.
func (c *Config) ApplyEnv() {
	if p := os.Getenv(EnvStorePath); p != "" {
		c.Store.Path = p
	}
}

// Validate checks field values.
func (c Config) Validate() error {
	if c.RevisionAttribute == "" {
		return fmt.Errorf("revision_attribute is required")
	}
	if c.RevisionModel == "" || c.RevisionChangeModel == "" {
		return fmt.Errorf("revision_model and revision_change_model are required")
	}
	if c.RevisionModel == c.RevisionChangeModel {
		return fmt.Errorf("revision_model and revision_change_model must differ (both %q)", c.RevisionModel)
	}
	switch c.IDPolicy {
	case ident.PolicyCompact, ident.PolicyUUID:
	default:
		return fmt.Errorf("id_policy must be %q or %q, got %q", ident.PolicyCompact, ident.PolicyUUID, c.IDPolicy)
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for driver %q", DriverSQLite)
		}
		if c.Store.InMemory {
			return fmt.Errorf("store.in_memory is only supported by driver %q", DriverBadger)
		}
	case DriverBadger:
		if c.Store.Path == "" && !c.Store.InMemory {
			return fmt.Errorf("store.path or store.in_memory is required for driver %q", DriverBadger)
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", DriverSQLite, DriverBadger, c.Store.Driver)
	}
	if c.Recorder.MaxConcurrency < 0 {
		return fmt.Errorf("recorder.max_concurrency must not be negative")
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return buf.Bytes(), nil
}

// StoreOptions returns the audit store options for this configuration.
func (c Config) StoreOptions() (store.Options, error) {
	keys, err := ident.New(c.IDPolicy)
	if err != nil {
		return store.Options{}, err
	}
	return store.Options{
		RevisionTable: c.RevisionModel,
		ChangeTable:   c.RevisionChangeModel,
		Keys:          keys,
	}, nil
}

// TrackerOptions returns the revision tracker options for this configuration.
func (c Config) TrackerOptions() []revision.Option {
	return []revision.Option{
		revision.WithExclude(c.Exclude...),
		revision.WithRevisionAttribute(c.RevisionAttribute),
		revision.WithInternalMarker(c.InternalMarker),
	}
}

// RecorderOptions returns the recorder options for this configuration.
func (c Config) RecorderOptions() []recorder.Option {
	opts := []recorder.Option{recorder.WithMaxConcurrency(c.Recorder.MaxConcurrency)}
	if c.UserModel != "" {
		opts = append(opts, recorder.WithUserModel(c.UserModel))
	}
	return opts
}
