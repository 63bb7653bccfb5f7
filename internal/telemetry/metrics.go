// Package telemetry provides Prometheus instrumentation for grade synchronization.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sis-gradesync/internal/model"
)

const namespace = "gradesync"

// SyncMetrics holds the instruments for synchronizer and sweeper activity.
// A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	recordOutcomes    *prometheus.CounterVec
	lockContention    prometheus.Counter
	transportFailures prometheus.Counter
	sweptRecords      prometheus.Counter
	batchDuration     *prometheus.HistogramVec
}

// NewSyncMetrics registers the instruments with reg. If reg is nil, it
// returns nil (no-op metrics).
func NewSyncMetrics(reg prometheus.Registerer) (*SyncMetrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &SyncMetrics{
		recordOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_outcomes_total",
			Help:      "Grade records moved to a post-send status.",
		}, []string{"status"}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_contention_total",
			Help:      "Course groups skipped because another process held the lock.",
		}),
		transportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_failures_total",
			Help:      "Batches that failed to reach the SIS.",
		}),
		sweptRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_records_total",
			Help:      "RESUBMIT records returned to SUBMITTED by the sweeper.",
		}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent sending and reconciling one course batch.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{
		m.recordOutcomes, m.lockContention, m.transportFailures, m.sweptRecords, m.batchDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *SyncMetrics) RecordOutcome(status model.GradeStatus) {
	if m == nil {
		return
	}
	m.recordOutcomes.WithLabelValues(string(status)).Inc()
}

func (m *SyncMetrics) RecordLockContention() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}

func (m *SyncMetrics) RecordTransportFailure() {
	if m == nil {
		return
	}
	m.transportFailures.Inc()
}

func (m *SyncMetrics) RecordSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptRecords.Add(float64(n))
}

// RecordBatchDuration records how long one batch took; outcome is "reconciled"
// or "resubmit".
func (m *SyncMetrics) RecordBatchDuration(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// NewRegistry returns a registry preloaded with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
