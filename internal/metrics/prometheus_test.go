package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordDecision("approved")
	m.RecordDecision("approved")
	m.RecordDecision("rejected")
	m.RecordRequestCreated("leave")
	m.RecordActivation()
	m.RecordHTTPRequest("POST", "/api/approvals/{id}/decide", 200, 15*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsCreated.WithLabelValues("leave")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activationsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("POST", "/api/approvals/{id}/decide", "200")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDecision("approved")
		m.RecordRequestCreated("leave")
		m.RecordActivation()
		m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordActivation()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "oa_workflow_activations_total 1")
}
