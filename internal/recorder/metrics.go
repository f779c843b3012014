package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// revisionWrites counts revision writes by model and result.
	revisionWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revtrail_revision_writes_total",
		Help: "Revision writes by model and result",
	}, []string{"model", "result"})

	// changeWrites counts change writes by model and result.
	changeWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revtrail_change_writes_total",
		Help: "Change writes by model and result",
	}, []string{"model", "result"})

	// recordDuration tracks the time from revision write to last change link.
	recordDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "revtrail_record_duration_seconds",
		Help:    "Time to persist one revision with all its changes",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
	}, []string{"model"})

	// inflight tracks dispatched recordings not yet finished.
	inflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "revtrail_record_inflight",
		Help: "Dispatched recordings still running",
	})
)

const (
	resultOK    = "ok"
	resultError = "error"
)
