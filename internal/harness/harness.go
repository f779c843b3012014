package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/revtrail/internal/config"
	"github.com/roach88/revtrail/internal/diff"
	"github.com/roach88/revtrail/internal/records"
	"github.com/roach88/revtrail/internal/testutil"
	"github.com/roach88/revtrail/internal/trail"
)

// Harness is the scenario execution engine.
type Harness struct {
	trail  *trail.Trail
	refs   map[string]*recordRef
	logger *slog.Logger
}

type recordRef struct {
	model    string
	id       string
	revision int64
	deleted  bool
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in fresh in-memory stores for isolation.
// Execution flow:
// 1. Wire a trail from the default config plus the scenario's overrides
// 2. Execute steps, recording each outcome in the trace
// 3. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, trail.DiscardLogger())
}

// RunWithLogger is Run with step logging sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	cfg := config.Default()
	scenario.Config.apply(&cfg)

	clock := testutil.NewStepClock(time.Time{}, 0)
	tr, err := trail.Open(cfg, trail.Options{
		Logger:      logger,
		Now:         clock.Now,
		IDs:         testutil.NewSequentialIDs(),
		Synchronous: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trail: %w", err)
	}
	defer tr.Close()

	h := &Harness{
		trail:  tr,
		refs:   make(map[string]*recordRef),
		logger: logger,
	}

	ctx := context.Background()
	result := NewResult()
	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSteps runs every step. A failing step is recorded and execution
// continues; only audit trail read failures abort the run.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		var opts []records.MutateOption
		if step.User != "" {
			opts = append(opts, records.AsUser(step.User))
		}

		refs := []string{step.Ref}
		if step.Op == OpBulkDelete {
			refs = step.Refs
		}
		audited := make([]bool, len(refs))
		var stepErr error
		if step.Op != OpCreate {
			for _, name := range refs {
				if h.refs[name] == nil {
					stepErr = fmt.Errorf("ref %q was never created", name)
				}
			}
		}

		switch {
		case stepErr != nil:
		case step.Op == OpCreate:
			var rec records.Record
			rec, stepErr = h.trail.Records.Create(ctx, step.Model, step.Attrs, opts...)
			if stepErr == nil {
				h.refs[step.Ref] = &recordRef{model: step.Model, id: rec.ID, revision: rec.Revision}
			}
			audited[0] = stepErr == nil && rec.Revision > 0

		case step.Op == OpUpdate:
			ref := h.refs[step.Ref]
			var rec records.Record
			rec, stepErr = h.trail.Records.Update(ctx, ref.model, ref.id, step.Attrs, opts...)
			changed := stepErr == nil && rec.Revision > ref.revision
			if changed {
				ref.revision = rec.Revision
			}
			audited[0] = changed

		case step.Op == OpDelete:
			ref := h.refs[step.Ref]
			var rec records.Record
			rec, stepErr = h.trail.Records.Delete(ctx, ref.model, ref.id, opts...)
			if stepErr == nil {
				ref.revision = rec.Revision
				ref.deleted = true
			}
			audited[0] = stepErr == nil

		case step.Op == OpBulkDelete:
			model := h.refs[refs[0]].model
			ids := make([]string, len(refs))
			live := make([]bool, len(refs))
			for j, name := range refs {
				ids[j] = h.refs[name].id
				live[j] = !h.refs[name].deleted
			}
			_, stepErr = h.trail.Records.BulkDelete(ctx, model, ids, opts...)
			for j, name := range refs {
				if stepErr == nil && live[j] {
					ref := h.refs[name]
					ref.revision++
					ref.deleted = true
					audited[j] = true
				}
			}
		}

		switch {
		case stepErr != nil && !step.ExpectError:
			result.AddError(fmt.Sprintf("steps[%d] %s %s: %v", i, step.Op, step.Ref, stepErr))
		case stepErr == nil && step.ExpectError:
			result.AddError(fmt.Sprintf("steps[%d] %s %s: expected an error", i, step.Op, step.Ref))
		}

		for j, name := range refs {
			if stepErr != nil {
				ev := TraceEvent{Step: i + 1, Op: step.Op, Model: step.Model, Ref: name, Outcome: OutcomeError}
				if ref, ok := h.refs[name]; ok {
					ev.Model = ref.model
					ev.Revision = ref.revision
				}
				result.Trace = append(result.Trace, ev)
				continue
			}
			ev, err := h.traceEvent(ctx, i, step.Op, name, audited[j])
			if err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
			result.Trace = append(result.Trace, ev)
		}

		h.logger.Info("step completed", "step", i, "op", step.Op, "ref", step.Ref, "err", stepErr)
	}
	return nil
}

// traceEvent reads back the revision a step produced.
func (h *Harness) traceEvent(ctx context.Context, index int, op, name string, audited bool) (TraceEvent, error) {
	ref := h.refs[name]
	ev := TraceEvent{
		Step:     index + 1,
		Op:       op,
		Model:    ref.model,
		Ref:      name,
		Outcome:  OutcomeSkipped,
		Revision: ref.revision,
	}
	if !audited {
		return ev, nil
	}

	rev, err := h.trail.Audit.LatestRevision(ctx, ref.model, ref.id)
	if err != nil {
		return ev, fmt.Errorf("latest revision of %s: %w", name, err)
	}
	ev.Outcome = OutcomeAudited
	ev.Revision = rev.Number
	if rev.UserID != nil {
		ev.User = *rev.UserID
	}

	chs, err := h.trail.Audit.ListChanges(ctx, rev.ID)
	if err != nil {
		return ev, fmt.Errorf("changes of %s: %w", name, err)
	}
	for _, ch := range chs {
		d, err := diff.UnmarshalDocument(ch.Document)
		if err != nil {
			return ev, err
		}
		tc := TraceChange{
			Path:     ch.Path,
			Kind:     string(d.Kind),
			Previous: diff.ToString(d.Previous()),
			Next:     diff.ToString(d.Next()),
		}
		if ch.Diff != "" {
			if err := json.Unmarshal([]byte(ch.Diff), &tc.Ops); err != nil {
				return ev, fmt.Errorf("decode diff of change %s: %w", ch.ID, err)
			}
		}
		ev.Changes = append(ev.Changes, tc)
	}
	return ev, nil
}
