package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.FilingOutcome("certified")
	m.SubmitAttempt("ok")
	m.SelectorFallback("entity_name")
	m.ObserveExecution(time.Second)
	m.Settlement("CLEARED")
	m.HealthCheck("pass")
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.FilingOutcome("certified")
	m.FilingOutcome("certified")
	m.FilingOutcome("failed")
	m.SelectorFallback("submit")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.filings.WithLabelValues("certified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.filings.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("submit")))
}

func TestHandlerExposesPipelineMetrics(t *testing.T) {
	m := New()
	m.HealthCheck("fail")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `statfiler_health_checks_total{result="fail"} 1`), body)
}
