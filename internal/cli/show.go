package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/revtrail/internal/audit"
	"github.com/roach88/revtrail/internal/store"
	"github.com/roach88/revtrail/internal/trail"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <revision-id>",
		Short: "Show one revision with its snapshot and changes",
		Long: `Show a single revision: its header, the snapshot of the record as it
was committed, and the changes linked to it.

Exit codes:
  0 - Revision printed
  1 - No revision with that identifier
  2 - Command error (config, store)

Examples:
  revtrail show 0000019a6c1e7c0070008a9d3c4b2e1f
  revtrail show 0000019a6c1e7c0070008a9d3c4b2e1f --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, rootOpts, args[0])
		},
	}
}

func runShow(cmd *cobra.Command, opts *RootOptions, revisionID string) error {
	out := newFormatter(cmd, opts)

	tr, err := openTrail(cmd, opts)
	if err != nil {
		return err
	}
	defer tr.Close()

	ctx := context.Background()
	rev, err := tr.Audit.ReadRevision(ctx, revisionID)
	if errors.Is(err, store.ErrNotFound) {
		if out.JSON() {
			_ = out.Error("E_NOT_FOUND", fmt.Sprintf("revision %s not found", revisionID), nil)
		}
		return WrapExitError(ExitFailure, "revision not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read revision", err)
	}
	changes, err := tr.Audit.ListChanges(ctx, rev.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read changes", err)
	}
	entry := trail.Entry{Revision: rev, Changes: changes}

	var text bytes.Buffer
	if !out.JSON() {
		if err := writeShow(&text, rev, changes); err != nil {
			return WrapExitError(ExitCommandError, "failed to render revision", err)
		}
	}
	return out.Success(entry, text.String())
}

func writeShow(w *bytes.Buffer, rev audit.Revision, changes []audit.Change) error {
	writeRevision(w, rev)
	fmt.Fprintf(w, "  snapshot: %s\n", rev.Snapshot)
	fmt.Fprintf(w, "  %d change(s)\n", len(changes))
	return writeChanges(w, changes)
}
