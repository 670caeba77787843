// Package metrics exposes pipeline counters on a private Prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "statfiler"

// Metrics holds the collectors.
type Metrics struct {
	registry *prometheus.Registry

	filings        *prometheus.CounterVec
	submitAttempts *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	execution      prometheus.Histogram
	settlements    *prometheus.CounterVec
	healthChecks   *prometheus.CounterVec
}

// New builds a registry with process and Go runtime collectors plus the
// pipeline metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		filings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filings_total",
			Help:      "Filing runs by outcome.",
		}, []string{"outcome"}),
		submitAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submit_attempts_total",
			Help:      "Submit clicks by result.",
		}, []string{"result"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selector_fallbacks_total",
			Help:      "Fallback locator uses by logical field.",
		}, []string{"field"}),
		execution: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_seconds",
			Help:      "Portal execution duration.",
			Buckets:   []float64{5, 10, 20, 30, 60, 90, 120, 180, 300},
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Ledger entries written by status.",
		}, []string{"status"}),
		healthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Synthetic portal checks by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.filings, m.submitAttempts, m.fallbacks, m.execution, m.settlements, m.healthChecks,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// FilingOutcome counts a finished fileEntity call. Outcomes: certified,
// failed, duplicate, rejected.
func (m *Metrics) FilingOutcome(outcome string) {
	if m == nil {
		return
	}
	m.filings.WithLabelValues(outcome).Inc()
}

// SubmitAttempt counts one submit click; result is ok or error.
func (m *Metrics) SubmitAttempt(result string) {
	if m == nil {
		return
	}
	m.submitAttempts.WithLabelValues(result).Inc()
}

// SelectorFallback counts a fallback locator use.
func (m *Metrics) SelectorFallback(field string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(field).Inc()
}

// ObserveExecution records one engine run.
func (m *Metrics) ObserveExecution(d time.Duration) {
	if m == nil {
		return
	}
	m.execution.Observe(d.Seconds())
}

// Settlement counts a ledger write by status.
func (m *Metrics) Settlement(status string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(status).Inc()
}

// HealthCheck counts a synthetic run; result is pass or fail.
func (m *Metrics) HealthCheck(result string) {
	if m == nil {
		return
	}
	m.healthChecks.WithLabelValues(result).Inc()
}
