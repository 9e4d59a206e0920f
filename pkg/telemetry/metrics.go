package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/polis-edge/pkg/domain"
)

// Metrics holds all Prometheus metrics for the proxy. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	upstreamDuration *prometheus.HistogramVec
	upstreamFailures *prometheus.CounterVec
	rulesLoaded      prometheus.Gauge
	landingReloads   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_requests_total",
				Help: "Total number of handled requests by outcome and status code",
			},
			[]string{"outcome", "status_code"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edge_request_duration_seconds",
				Help:    "End-to-end request handling duration in seconds by outcome",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edge_upstream_duration_seconds",
				Help:    "Upstream call duration in seconds by upstream host",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"upstream"},
		),

		upstreamFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_upstream_failures_total",
				Help: "Total number of upstream transport failures by upstream host and reason",
			},
			[]string{"upstream", "reason"},
		),

		rulesLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "edge_rules_loaded",
				Help: "Number of routing rules loaded at startup",
			},
		),

		landingReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_landing_page_reloads_total",
				Help: "Total number of landing page reload attempts by status",
			},
			[]string{"status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.upstreamDuration,
		m.upstreamFailures,
		m.rulesLoaded,
		m.landingReloads,
	)

	return m
}

// RecordRequest records a handled request.
func (m *Metrics) RecordRequest(outcome domain.Outcome, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(string(outcome), strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

// RecordUpstream records the duration of a completed upstream exchange.
func (m *Metrics) RecordUpstream(upstream string, duration time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(upstream).Observe(duration.Seconds())
}

// RecordUpstreamFailure records a transport-level upstream failure.
func (m *Metrics) RecordUpstreamFailure(upstream, reason string) {
	if m == nil {
		return
	}
	m.upstreamFailures.WithLabelValues(upstream, reason).Inc()
}

// SetRulesLoaded records the size of the rule set.
func (m *Metrics) SetRulesLoaded(n int) {
	if m == nil {
		return
	}
	m.rulesLoaded.Set(float64(n))
}

// RecordLandingReload records a landing page reload attempt.
func (m *Metrics) RecordLandingReload(success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.landingReloads.WithLabelValues(status).Inc()
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
