package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/revtrail/internal/config"
	"github.com/roach88/revtrail/internal/trail"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Output    string
	Force     bool
	Driver    string
	StorePath string
}

// InitResult is the JSON payload of the init command.
type InitResult struct {
	ConfigPath string `json:"config_path"`
	Driver     string `json:"driver"`
	StorePath  string `json:"store_path"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file and create the audit store",
		Long: `Write a configuration file populated with the defaults and create the
audit store it points at.

Exit codes:
  0 - Config written and store created
  2 - Command error (file exists, invalid driver, store cannot be opened)

Examples:
  revtrail init
  revtrail init --output audit.yaml --store audit.db
  revtrail init --driver badger --store ./audit-data --force`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "revtrail.yaml", "config file to write")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing config file")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "store driver (sqlite|badger)")
	cmd.Flags().StringVar(&opts.StorePath, "store", "", "store path")

	return cmd
}

func runInit(cmd *cobra.Command, opts *InitOptions) error {
	out := newFormatter(cmd, opts.RootOptions)

	if !opts.Force {
		if _, err := os.Stat(opts.Output); err == nil {
			return NewExitError(ExitCommandError,
				fmt.Sprintf("config file %s already exists (use --force to overwrite)", opts.Output))
		} else if !errors.Is(err, fs.ErrNotExist) {
			return WrapExitError(ExitCommandError, "failed to stat config file", err)
		}
	}

	cfg := config.Default()
	if opts.Driver != "" {
		cfg.Store.Driver = opts.Driver
		if opts.Driver == config.DriverBadger && opts.StorePath == "" {
			cfg.Store.Path = "revtrail-data"
		}
	}
	if opts.StorePath != "" {
		cfg.Store.Path = opts.StorePath
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	data, err := cfg.Marshal()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to render config", err)
	}
	if err := os.WriteFile(opts.Output, data, 0644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write config", err)
	}
	out.VerboseLog("wrote %s", opts.Output)

	tr, err := trail.Open(cfg, trail.Options{Logger: newLogger(cmd.ErrOrStderr(), opts.Verbose)})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create audit store", err)
	}
	if err := tr.Close(); err != nil {
		return WrapExitError(ExitCommandError, "failed to close audit store", err)
	}

	result := InitResult{
		ConfigPath: opts.Output,
		Driver:     cfg.Store.Driver,
		StorePath:  cfg.Store.Path,
	}
	text := fmt.Sprintf("Wrote %s\nCreated %s audit store at %s\n", result.ConfigPath, result.Driver, result.StorePath)
	return out.Success(result, text)
}
