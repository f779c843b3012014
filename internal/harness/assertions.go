package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/revtrail/internal/audit"
	"github.com/roach88/revtrail/internal/records"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Ref      string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s (ref=%s)\n", e.Type, e.Ref)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// evaluateAssertions runs every assertion and returns the failure messages.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	ref := h.refs[a.Ref]
	if ref == nil {
		return &AssertionError{Type: a.Type, Ref: a.Ref, Expected: "record was created", Actual: "create step failed"}
	}

	switch a.Type {
	case AssertRevisionCount:
		revs, err := h.trail.Audit.ListRevisions(ctx, ref.model, ref.id)
		if err != nil {
			return err
		}
		if len(revs) != a.Count {
			return &AssertionError{Type: a.Type, Ref: a.Ref,
				Expected: fmt.Sprintf("%d revisions", a.Count),
				Actual:   fmt.Sprintf("%d revisions", len(revs))}
		}

	case AssertRevisionNumbers:
		revs, err := h.trail.Audit.ListRevisions(ctx, ref.model, ref.id)
		if err != nil {
			return err
		}
		got := make([]int64, len(revs))
		for i, r := range revs {
			got[i] = r.Number
		}
		if !slices.Equal(got, a.Numbers) {
			return &AssertionError{Type: a.Type, Ref: a.Ref,
				Expected: fmt.Sprintf("%v", a.Numbers),
				Actual:   fmt.Sprintf("%v", got)}
		}

	case AssertChangePaths:
		rev, err := h.revision(ctx, ref, a.Revision)
		if err != nil {
			return &AssertionError{Type: a.Type, Ref: a.Ref, Expected: fmt.Sprintf("revision %d", a.Revision), Actual: err.Error()}
		}
		chs, err := h.trail.Audit.ListChanges(ctx, rev.ID)
		if err != nil {
			return err
		}
		got := make([]string, len(chs))
		for i, ch := range chs {
			got[i] = ch.Path
		}
		want := append([]string(nil), a.Paths...)
		sort.Strings(got)
		sort.Strings(want)
		if !slices.Equal(got, want) {
			return &AssertionError{Type: a.Type, Ref: a.Ref,
				Expected: fmt.Sprintf("paths %v", want),
				Actual:   fmt.Sprintf("paths %v", got)}
		}

	case AssertRecordState:
		rec, err := h.trail.Records.Get(ctx, ref.model, ref.id)
		if err != nil {
			return &AssertionError{Type: a.Type, Ref: a.Ref, Expected: "record exists", Actual: err.Error()}
		}
		keys := make([]string, 0, len(a.Expect))
		for k := range a.Expect {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			want := fmt.Sprint(a.Expect[k])
			got, ok := rec.Attributes[k]
			if !ok || fmt.Sprint(got) != want {
				return &AssertionError{Type: a.Type, Ref: a.Ref,
					Expected: fmt.Sprintf("%s=%s", k, want),
					Actual:   fmt.Sprintf("%s=%v", k, got)}
			}
		}

	case AssertRecordAbsent:
		_, err := h.trail.Records.Get(ctx, ref.model, ref.id)
		if !errors.Is(err, records.ErrNotFound) {
			return &AssertionError{Type: a.Type, Ref: a.Ref, Expected: "record not found", Actual: fmt.Sprintf("%v", err)}
		}

	case AssertRevisionUser:
		rev, err := h.revision(ctx, ref, a.Revision)
		if err != nil {
			return &AssertionError{Type: a.Type, Ref: a.Ref, Expected: fmt.Sprintf("revision %d", a.Revision), Actual: err.Error()}
		}
		got := ""
		if rev.UserID != nil {
			got = *rev.UserID
		}
		if got != a.User {
			return &AssertionError{Type: a.Type, Ref: a.Ref,
				Expected: fmt.Sprintf("user %q", a.User),
				Actual:   fmt.Sprintf("user %q", got)}
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// revision returns the ref's revision with the given number.
func (h *Harness) revision(ctx context.Context, ref *recordRef, number int64) (audit.Revision, error) {
	revs, err := h.trail.Audit.ListRevisions(ctx, ref.model, ref.id)
	if err != nil {
		return audit.Revision{}, err
	}
	for _, r := range revs {
		if r.Number == number {
			return r, nil
		}
	}
	return audit.Revision{}, fmt.Errorf("no revision %d", number)
}
