package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/roach88/revtrail/internal/audit"
	"github.com/roach88/revtrail/internal/diff"
	"github.com/roach88/revtrail/internal/trail"
)

// writeRevision prints one revision header line.
func writeRevision(w io.Writer, rev audit.Revision) {
	user := "-"
	if rev.UserID != nil {
		user = *rev.UserID
	}
	fmt.Fprintf(w, "revision %d  %s/%s  id=%s  at=%s  user=%s\n",
		rev.Number, rev.Model, rev.DocumentID, rev.ID,
		rev.CreatedAt.UTC().Format(time.RFC3339Nano), user)
}

// writeChanges prints one line per change: path, kind and the character
// diff with removals as [-x-] and additions as {+x+}.
func writeChanges(w io.Writer, changes []audit.Change) error {
	for _, ch := range changes {
		d, err := diff.UnmarshalDocument(ch.Document)
		if err != nil {
			return err
		}
		ops, err := decodeOps(ch)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %-16s %s  %s\n", d.Path.String(), d.Kind, formatOps(ops))
	}
	return nil
}

func writeEntries(w io.Writer, entries []trail.Entry) error {
	for _, e := range entries {
		writeRevision(w, e.Revision)
		if err := writeChanges(w, e.Changes); err != nil {
			return err
		}
	}
	return nil
}

func decodeOps(ch audit.Change) ([]audit.TextOp, error) {
	if ch.Diff == "" {
		return nil, nil
	}
	var ops []audit.TextOp
	if err := json.Unmarshal([]byte(ch.Diff), &ops); err != nil {
		return nil, fmt.Errorf("decode diff of change %s: %w", ch.ID, err)
	}
	return ops, nil
}

func formatOps(ops []audit.TextOp) string {
	if len(ops) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for _, op := range ops {
		switch {
		case op.Added:
			b.WriteString("{+" + op.Value + "+}")
		case op.Removed:
			b.WriteString("[-" + op.Value + "-]")
		default:
			b.WriteString(op.Value)
		}
	}
	return b.String()
}
