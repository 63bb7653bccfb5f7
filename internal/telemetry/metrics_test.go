package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sis-gradesync/internal/model"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	t.Parallel()

	m, err := NewSyncMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	assert.NotPanics(t, func() {
		m.RecordOutcome(model.GradeStatusProcessed)
		m.RecordLockContention()
		m.RecordTransportFailure()
		m.RecordSwept(2)
		m.RecordBatchDuration("reconciled", time.Second)
	})
}

func TestSyncMetricsCount(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewSyncMetrics(reg)
	require.NoError(t, err)

	m.RecordOutcome(model.GradeStatusProcessed)
	m.RecordOutcome(model.GradeStatusProcessed)
	m.RecordOutcome(model.GradeStatusLocked)
	m.RecordSwept(3)
	m.RecordSwept(0)
	m.RecordLockContention()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordOutcomes.WithLabelValues("PROCESSED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordOutcomes.WithLabelValues("LOCKED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweptRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockContention))

	_, err = NewSyncMetrics(reg)
	assert.Error(t, err, "registering twice must fail")
}

func TestHandlerServesMetrics(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m, err := NewSyncMetrics(reg)
	require.NoError(t, err)
	m.RecordTransportFailure()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gradesync_transport_failures_total 1")
}
