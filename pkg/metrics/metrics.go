// Package metrics exports gateway metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whygraph"

// Metrics groups the gateway collectors. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	stageDuration   *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec
	retries         prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
	artifactFails   *prometheus.CounterVec
	truncations     prometheus.Counter
	evidenceItems   prometheus.Histogram
}

// New registers the collectors on reg. Use prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 3},
		}, []string{"stage", "status"}),

		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Requests by intent and outcome code",
		}, []string{"intent", "code"}),

		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 4.5, 6},
		}, []string{"mode"}),

		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "fallbacks_total",
			Help:      "Templater fallbacks by cause",
		}, []string{"cause"}),

		retries: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "retries",
			Help:      "Model retries per answered request",
			Buckets:   []float64{0, 1, 2, 3},
		}),

		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by cache and result",
		}, []string{"cache", "result"}),

		artifactFails: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "persist_failures_total",
			Help:      "Artifacts that could not be persisted",
		}, []string{"artifact"}),

		truncations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evidence",
			Name:      "truncations_total",
			Help:      "Bundles the selector had to truncate",
		}),

		evidenceItems: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evidence",
			Name:      "final_items",
			Help:      "Non-anchor evidence items per bundle",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
	}
}

func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

func (m *Metrics) ObserveRequest(intent, code, mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(intent, code).Inc()
	m.requestDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) ObserveAnswer(retries int, fallbackCause string) {
	if m == nil {
		return
	}
	m.retries.Observe(float64(retries))
	if fallbackCause != "" {
		m.fallbacks.WithLabelValues(fallbackCause).Inc()
	}
}

func (m *Metrics) ObserveEvidence(truncated bool, finalItems int) {
	if m == nil {
		return
	}
	if truncated {
		m.truncations.Inc()
	}
	m.evidenceItems.Observe(float64(finalItems))
}

// CacheLookup implements cache.Observer.
func (m *Metrics) CacheLookup(name string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(name, result).Inc()
}

// ArtifactFailed implements audit.FailureObserver.
func (m *Metrics) ArtifactFailed(artifact string) {
	if m == nil {
		return
	}
	m.artifactFails.WithLabelValues(artifact).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
