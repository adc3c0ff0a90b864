// Package metrics provides Prometheus metrics for the compute pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. A nil *Metrics is a valid
// no-op receiver so components can run unobserved in tests.
type Metrics struct {
	ComputeRequests   prometheus.Counter
	ComputeFailures   *prometheus.CounterVec
	ComputeDuration   prometheus.Histogram
	UpstreamRequests  *prometheus.CounterVec
	CacheLookups      *prometheus.CounterVec
	DegradedServes    *prometheus.CounterVec
	LimiterRejections *prometheus.CounterVec
	SigFallbackCalls  *prometheus.CounterVec
	SelectionOutcomes *prometheus.CounterVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	m := &Metrics{
		ComputeRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compute_requests_total",
			Help: "Total compute requests received",
		}),
		ComputeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compute_failures_total",
			Help: "Total compute requests that ended in a terminal error",
		}, []string{"code"}),
		ComputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "compute_duration_seconds",
			Help:    "End-to-end compute pipeline duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Upstream lookups by dependency and outcome",
		}, []string{"dependency", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups by dependency and result",
		}, []string{"dependency", "result"}),
		DegradedServes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "degraded_serves_total",
			Help: "Responses built from stale cache entries",
		}, []string{"dependency"}),
		LimiterRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_rejections_total",
			Help: "Calls rejected by the local admission limiter",
		}, []string{"dependency"}),
		SigFallbackCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sig_fallback_calls_total",
			Help: "Directive parses that reached the language-model fallback",
		}, []string{"outcome"}),
		SelectionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "package_selection_total",
			Help: "Package selection outcomes",
		}, []string{"outcome"}),
	}

	prometheus.MustRegister(
		m.ComputeRequests,
		m.ComputeFailures,
		m.ComputeDuration,
		m.UpstreamRequests,
		m.CacheLookups,
		m.DegradedServes,
		m.LimiterRejections,
		m.SigFallbackCalls,
		m.SelectionOutcomes,
	)

	return m
}

// Upstream records one upstream lookup outcome.
func (m *Metrics) Upstream(dependency, outcome string) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(dependency, outcome).Inc()
}

// Cache records one cache lookup result.
func (m *Metrics) Cache(dependency, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(dependency, result).Inc()
}

// Degraded records a stale-cache serve for dependency.
func (m *Metrics) Degraded(dependency string) {
	if m == nil {
		return
	}
	m.DegradedServes.WithLabelValues(dependency).Inc()
}

// LimiterRejected records a local admission rejection.
func (m *Metrics) LimiterRejected(dependency string) {
	if m == nil {
		return
	}
	m.LimiterRejections.WithLabelValues(dependency).Inc()
}

// Fallback records a language-model fallback outcome.
func (m *Metrics) Fallback(outcome string) {
	if m == nil {
		return
	}
	m.SigFallbackCalls.WithLabelValues(outcome).Inc()
}

// Selection records a package selection outcome.
func (m *Metrics) Selection(outcome string) {
	if m == nil {
		return
	}
	m.SelectionOutcomes.WithLabelValues(outcome).Inc()
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
