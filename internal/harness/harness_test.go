package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_AliceAge(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/alice-age.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 5)

	outcomes := make([]string, len(result.Trace))
	for i, ev := range result.Trace {
		outcomes[i] = ev.Outcome
	}
	assert.Equal(t, []string{OutcomeAudited, OutcomeAudited, OutcomeSkipped, OutcomeAudited, OutcomeAudited}, outcomes)
	assert.Equal(t, int64(3), result.Trace[3].Revision, "tampered counter is ignored")
}

func TestRun_TeamCleanupOnBadger(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/team-cleanup.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	// two creates, two updates, two bulk-deleted records, one failed update
	require.Len(t, result.Trace, 7)
	assert.Equal(t, "admin", result.Trace[0].User)
	assert.Equal(t, OutcomeSkipped, result.Trace[2].Outcome)
	assert.Equal(t, "bob", result.Trace[3].User)

	for _, ev := range result.Trace[4:6] {
		assert.Equal(t, OpBulkDelete, ev.Op)
		assert.Equal(t, OutcomeAudited, ev.Outcome)
		assert.Equal(t, "admin", ev.User)
		require.Len(t, ev.Changes, 1)
		assert.Equal(t, "deletedAt", ev.Changes[0].Path)
	}
	assert.Equal(t, OutcomeError, result.Trace[6].Outcome)
}

func TestRun_UUIDPolicy(t *testing.T) {
	s := &Scenario{
		Name:        "uuid",
		Description: "random identifiers with text keys",
		Config:      ScenarioConfig{IDPolicy: "uuid"},
		Steps: []Step{
			{Op: OpCreate, Model: "notes", Ref: "n", Attrs: map[string]any{"body": "hello"}},
			{Op: OpUpdate, Ref: "n", Attrs: map[string]any{"body": "hello world"}},
		},
		Assertions: []Assertion{
			{Type: AssertRevisionNumbers, Ref: "n", Numbers: []int64{1, 2}},
			{Type: AssertRecordState, Ref: "n", Expect: map[string]any{"body": "hello world", "revision": 2}},
		},
	}
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace[1].Changes, 1)
	assert.Equal(t, []string{"hello", " world"}, []string{result.Trace[1].Changes[0].Ops[0].Value, result.Trace[1].Changes[0].Ops[1].Value})
}

func TestRun_FailingAssertionsReported(t *testing.T) {
	s := &Scenario{
		Name:        "failing",
		Description: "every assertion is wrong",
		Steps: []Step{
			{Op: OpCreate, Model: "users", Ref: "a", Attrs: map[string]any{"name": "A"}},
		},
		Assertions: []Assertion{
			{Type: AssertRevisionCount, Ref: "a", Count: 2},
			{Type: AssertRevisionNumbers, Ref: "a", Numbers: []int64{2}},
			{Type: AssertChangePaths, Ref: "a", Revision: 1, Paths: []string{"age"}},
			{Type: AssertChangePaths, Ref: "a", Revision: 9, Paths: []string{"name"}},
			{Type: AssertRecordState, Ref: "a", Expect: map[string]any{"name": "B"}},
			{Type: AssertRecordAbsent, Ref: "a"},
			{Type: AssertRevisionUser, Ref: "a", Revision: 1, User: "someone"},
		},
	}
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 7)
	assert.Contains(t, result.Errors[0], "Expected: 2 revisions")
	assert.Contains(t, result.Errors[2], "paths [age]")
	assert.Contains(t, result.Errors[3], "no revision 9")
	assert.Contains(t, result.Errors[4], "name=B")
}

func TestRun_UnexpectedStepOutcomes(t *testing.T) {
	s := &Scenario{
		Name:        "outcomes",
		Description: "an expected failure that succeeds and a failure that was not expected",
		Steps: []Step{
			{Op: OpCreate, Model: "users", Ref: "a", Attrs: map[string]any{"name": "A"}},
			{Op: OpUpdate, Ref: "a", Attrs: map[string]any{"name": "B"}, ExpectError: true},
			{Op: OpDelete, Ref: "a"},
			{Op: OpDelete, Ref: "a"},
		},
	}
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected an error")
	assert.Contains(t, result.Errors[1], "record not found")
	assert.Equal(t, OutcomeError, result.Trace[3].Outcome)
	assert.Equal(t, int64(3), result.Trace[3].Revision)
}

func TestRun_CreateOfExcludedFieldsOnlyIsSkipped(t *testing.T) {
	s := &Scenario{
		Name:        "skip-create",
		Description: "nothing audit-worthy on create",
		Config:      ScenarioConfig{Exclude: []string{"id", "createdAt", "updatedAt", "token"}},
		Steps: []Step{
			{Op: OpCreate, Model: "sessions", Ref: "s", Attrs: map[string]any{"token": "abc"}},
		},
		Assertions: []Assertion{
			{Type: AssertRevisionCount, Ref: "s", Count: 0},
		},
	}
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, OutcomeSkipped, result.Trace[0].Outcome)
	assert.Equal(t, int64(0), result.Trace[0].Revision)
}
