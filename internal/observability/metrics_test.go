package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsEndpointExposesRecordedData(t *testing.T) {
	t.Parallel()

	m := NewMetrics("testrelay")
	m.RecordRequest(http.MethodGet, "/relay", http.StatusOK, 25*time.Millisecond)
	m.RecordRateLimitHit()
	m.SetCircuitBreakerState("relay", 2)
	m.SetBuildInfo("1.0.0", "abc123", "2026-01-01")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "testrelay_requests_total")
	assert.Contains(t, body, "testrelay_rate_limit_hits_total")
	assert.Contains(t, body, "testrelay_circuit_breaker_state")
	assert.Contains(t, body, "testrelay_build_info")
}

func TestRegisterCollector(t *testing.T) {
	t.Parallel()

	m := NewMetrics("testrelay2")

	extra := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "extra_counter_total",
		Help: "extra",
	})
	require.NoError(t, m.RegisterCollector(extra))
	extra.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "extra_counter_total")

	// Re-registering the same collector fails.
	assert.Error(t, m.RegisterCollector(extra))
}

func TestMetricsMiddleware(t *testing.T) {
	t.Parallel()

	m := NewMetrics("testrelay3")

	handler := MetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relay", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := metricsRec.Body.String()
	assert.Contains(t, body, `endpoint="/relay"`)
	assert.Contains(t, body, `status="502"`)
}

func TestEndpointLabelBoundsCardinality(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/relay", endpointLabel("/relay"))
	assert.Equal(t, "/admin/reset", endpointLabel("/admin/reset"))
	assert.Equal(t, "/admin/state", endpointLabel("/admin/state"))
	assert.Equal(t, "other", endpointLabel("/anything/else"))
	assert.Equal(t, "other", endpointLabel("/relay/extra"))
}
