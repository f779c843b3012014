package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_AliceAge(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/alice-age.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestMarshalTrace_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/alice-age.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := MarshalTrace(s.Name, first.Trace)
	require.NoError(t, err)
	b, err := MarshalTrace(s.Name, second.Trace)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestMarshalTrace_NoHTMLEscaping(t *testing.T) {
	data, err := MarshalTrace("x", []TraceEvent{{Step: 1, Op: OpCreate, Ref: "<a>", Outcome: OutcomeSkipped}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ref": "<a>"`)
	assert.Equal(t, byte('\n'), data[len(data)-1])
}
