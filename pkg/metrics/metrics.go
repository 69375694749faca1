// Package metrics wires Prometheus collectors for the analysis engine and
// the HTTP surfaces, and exposes them on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DurationBuckets are histogram buckets in seconds for per-session analysis.
var DurationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Registry owns a Prometheus registry and the collectors registered on it.
type Registry struct {
	reg *prometheus.Registry

	Sessions     prometheus.Counter
	Failures     prometheus.Counter
	RootCategory *prometheus.CounterVec
	Duration     prometheus.Histogram
	Confidence   prometheus.Histogram
	Events       prometheus.Histogram
	CacheHits    *prometheus.CounterVec
	Requests     *prometheus.CounterVec
}

// New creates a Registry with every collector registered. Each call returns
// an isolated registry, so tests can create as many as they like.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		Sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diagtrace_sessions_analyzed_total",
			Help: "Sessions analyzed",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diagtrace_analysis_failures_total",
			Help: "Analyses rejected by report validation",
		}),
		RootCategory: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diagtrace_root_cause_total",
			Help: "Reports by root-cause category",
		}, []string{"category"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "diagtrace_analysis_duration_seconds",
			Help:    "Time to analyze one session",
			Buckets: DurationBuckets,
		}),
		Confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "diagtrace_confidence",
			Help:    "Root-cause confidence per report",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		Events: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "diagtrace_session_events",
			Help:    "Matched events per session",
			Buckets: prometheus.ExponentialBuckets(1, 4, 9),
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diagtrace_report_cache_total",
			Help: "Report cache lookups by result",
		}, []string{"result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diagtrace_http_requests_total",
			Help: "HTTP requests by method and status",
		}, []string{"method", "status"}),
	}
	r.reg.MustRegister(
		r.Sessions, r.Failures, r.RootCategory, r.Duration,
		r.Confidence, r.Events, r.CacheHits, r.Requests,
	)
	return r
}

// ObserveAnalysis records one finished analysis. An empty category means the
// session had no errors.
func (r *Registry) ObserveAnalysis(category string, confidence float64, events int, d time.Duration) {
	r.Sessions.Inc()
	if category == "" {
		category = "none"
	}
	r.RootCategory.WithLabelValues(category).Inc()
	r.Confidence.Observe(confidence)
	r.Events.Observe(float64(events))
	r.Duration.Observe(d.Seconds())
}

// ObserveFailure records an analysis that produced no report.
func (r *Registry) ObserveFailure() { r.Failures.Inc() }

// ObserveCache records a report cache hit or miss.
func (r *Registry) ObserveCache(hit bool) {
	if hit {
		r.CacheHits.WithLabelValues("hit").Inc()
		return
	}
	r.CacheHits.WithLabelValues("miss").Inc()
}

// ObserveRequest records one HTTP response.
func (r *Registry) ObserveRequest(method string, status int) {
	r.Requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
