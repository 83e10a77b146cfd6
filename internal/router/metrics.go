package router

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric result labels.
const (
	resultSuccess   = "success"
	resultFailure   = "failure"
	resultExhausted = "exhausted"
)

// Metrics holds the Prometheus collectors for the router. The
// collectors are created unregistered; callers register them with
// their registry of choice via Collectors.
type Metrics struct {
	attemptsTotal    *prometheus.CounterVec
	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	failedProxies    prometheus.Gauge
	poolResetsTotal  prometheus.Counter
}

// NewMetrics creates router metrics collectors under the given
// namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "relay"
	}

	return &Metrics{
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "attempts_total",
				Help:      "Total number of proxy attempts",
			},
			[]string{"proxy", "result"},
		),
		dispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "dispatches_total",
				Help:      "Total number of dispatch operations",
			},
			[]string{"result"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "dispatch_duration_seconds",
				Help:      "Total duration of dispatch operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		failedProxies: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "failed_proxies",
				Help:      "Number of proxies currently marked failed",
			},
		),
		poolResetsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "pool_resets_total",
				Help:      "Total number of implicit proxy pool resets after exhaustion",
			},
		),
	}
}

// Collectors returns all collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.attemptsTotal,
		m.dispatchesTotal,
		m.dispatchDuration,
		m.failedProxies,
		m.poolResetsTotal,
	}
}

// RecordAttempt records a single proxy attempt outcome.
func (m *Metrics) RecordAttempt(proxy, result string) {
	m.attemptsTotal.WithLabelValues(proxy, result).Inc()
}

// RecordDispatch records a completed dispatch operation.
func (m *Metrics) RecordDispatch(result string, duration time.Duration) {
	m.dispatchesTotal.WithLabelValues(result).Inc()
	m.dispatchDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// SetFailedProxies sets the failed proxy gauge.
func (m *Metrics) SetFailedProxies(count int) {
	m.failedProxies.Set(float64(count))
}

// RecordPoolReset records an implicit pool reset after exhaustion.
func (m *Metrics) RecordPoolReset() {
	m.poolResetsTotal.Inc()
}
