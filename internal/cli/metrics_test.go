package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_TextAfterScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rename.yaml"), passingScenario)

	out, err := execute(t, "metrics", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "# TYPE revtrail_revision_writes_total counter")
	assert.Contains(t, out, `revtrail_revision_writes_total{model="users",result="ok"}`)
	assert.Contains(t, out, "revtrail_record_inflight 0")
	assert.NotContains(t, out, "go_goroutines")
}

func TestMetrics_JSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rename.yaml"), passingScenario)

	out, err := execute(t, "metrics", dir, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   []MetricSample `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	var found bool
	for _, s := range resp.Data {
		if s.Name == "revtrail_revision_writes_total" && s.Labels["model"] == "users" && s.Labels["result"] == "ok" {
			found = true
			assert.Equal(t, "counter", s.Type)
			assert.GreaterOrEqual(t, s.Value, 2.0)
		}
	}
	assert.True(t, found, "revision write counter missing from %v", resp.Data)
}

func TestMetricSamples(t *testing.T) {
	reg := prometheus.NewRegistry()
	writes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revtrail_test_writes_total",
		Help: "test",
	}, []string{"model"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "revtrail_test_seconds",
		Help: "test",
	})
	other := prometheus.NewGauge(prometheus.GaugeOpts{Name: "unrelated", Help: "test"})
	reg.MustRegister(writes, duration, other)

	writes.WithLabelValues("users").Add(3)
	duration.Observe(0.5)
	duration.Observe(1.5)
	other.Set(7)

	families, err := gatherRevtrail(reg)
	require.NoError(t, err)
	samples := metricSamples(families)

	require.Len(t, samples, 2)
	assert.Equal(t, MetricSample{Name: "revtrail_test_seconds", Type: "histogram", Value: 2.0, Count: 2}, samples[0])
	assert.Equal(t, MetricSample{
		Name:   "revtrail_test_writes_total",
		Type:   "counter",
		Labels: map[string]string{"model": "users"},
		Value:  3,
	}, samples[1])
}
