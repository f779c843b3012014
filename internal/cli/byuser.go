package cli

import (
	"bytes"
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/revtrail/internal/audit"
)

// NewByUserCommand creates the by-user command.
func NewByUserCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "by-user <user-id>",
		Short: "List revisions attributed to a user",
		Long: `List every revision whose mutation was attributed to the given user.
Revisions only carry a user when user_model is set in the config.

Exit codes:
  0 - Revisions printed (possibly none)
  2 - Command error (config, store)

Examples:
  revtrail by-user u-42
  revtrail by-user u-42 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runByUser(cmd, rootOpts, args[0])
		},
	}
}

func runByUser(cmd *cobra.Command, opts *RootOptions, userID string) error {
	out := newFormatter(cmd, opts)

	tr, err := openTrail(cmd, opts)
	if err != nil {
		return err
	}
	defer tr.Close()

	if tr.Config.UserModel == "" {
		out.VerboseLog("user_model is not configured; revisions carry no user")
	}

	revs, err := tr.Audit.RevisionsByUser(context.Background(), userID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read revisions", err)
	}
	if revs == nil {
		revs = []audit.Revision{}
	}

	var text bytes.Buffer
	if !out.JSON() {
		fmt.Fprintf(&text, "%s: %d revision(s)\n", userID, len(revs))
		for _, rev := range revs {
			writeRevision(&text, rev)
		}
	}
	return out.Success(revs, text.String())
}
