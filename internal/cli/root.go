package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/revtrail/internal/config"
	"github.com/roach88/revtrail/internal/trail"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string // empty means defaults plus environment
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the revtrail CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "revtrail",
		Short: "revtrail - revision and change audit trail",
		Long: `Inspect and exercise a revision audit trail.

Every audit-worthy create, update or delete of a tracked record produces a
numbered revision holding a snapshot of the record, plus one change per
field-level difference with a character diff of the old and new values.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default: built-in defaults)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewByUserCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))
	cmd.AddCommand(NewMetricsCommand(opts))

	return cmd
}

// loadConfig reads --config, or falls back to the defaults with the
// environment override applied.
func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.ConfigPath != "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		return cfg, nil
	}
	cfg := config.Default()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// openTrail loads the configuration and opens the stores it names.
func openTrail(cmd *cobra.Command, opts *RootOptions) (*trail.Trail, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	logger.Debug("opening audit store", "driver", cfg.Store.Driver, "path", cfg.Store.Path)

	tr, err := trail.Open(cfg, trail.Options{Logger: logger})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open audit store", err)
	}
	return tr, nil
}
