package cli

import (
	"bytes"
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <model> <document-id>",
		Short: "List a record's revisions and their changes",
		Long: `List every revision recorded for one record, oldest first, with the
field-level changes of each revision.

Exit codes:
  0 - History printed
  1 - The record has no revisions
  2 - Command error (config, store)

Examples:
  revtrail history users 0000019a6c1e7c00
  revtrail history users 0000019a6c1e7c00 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, rootOpts, args[0], args[1])
		},
	}
}

func runHistory(cmd *cobra.Command, opts *RootOptions, model, documentID string) error {
	out := newFormatter(cmd, opts)

	tr, err := openTrail(cmd, opts)
	if err != nil {
		return err
	}
	defer tr.Close()

	entries, err := tr.History(context.Background(), model, documentID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}
	if len(entries) == 0 {
		if out.JSON() {
			_ = out.Error("E_NO_HISTORY", fmt.Sprintf("no revisions for %s/%s", model, documentID), nil)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("no revisions for %s/%s", model, documentID))
	}

	var text bytes.Buffer
	if !out.JSON() {
		fmt.Fprintf(&text, "%s/%s: %d revision(s)\n", model, documentID, len(entries))
		if err := writeEntries(&text, entries); err != nil {
			return WrapExitError(ExitCommandError, "failed to render history", err)
		}
	}
	return out.Success(entries, text.String())
}
