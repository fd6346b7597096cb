package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the generation layer.
type Metrics struct {
	registry *prometheus.Registry

	GenerationAttempts *prometheus.CounterVec
	Exhaustions        prometheus.Counter
	ContextAssemblies  *prometheus.CounterVec
	ContextCacheHits   *prometheus.CounterVec
	SessionsCreated    prometheus.Counter
	TurnDuration       prometheus.Histogram
}

// NewMetrics creates and registers the metric set on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		GenerationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studykit",
			Name:      "generation_attempts_total",
			Help:      "Generation attempts by model tier and outcome.",
		}, []string{"tier", "outcome"}),
		Exhaustions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "studykit",
			Name:      "generation_exhaustions_total",
			Help:      "Requests for which every model tier was exhausted.",
		}),
		ContextAssemblies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studykit",
			Name:      "context_assemblies_total",
			Help:      "Context assemblies by strategy.",
		}, []string{"strategy"}),
		ContextCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studykit",
			Name:      "context_cache_lookups_total",
			Help:      "Context cache lookups by result.",
		}, []string{"result"}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "studykit",
			Name:      "upstream_sessions_created_total",
			Help:      "Upstream chat sessions created.",
		}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "studykit",
			Name:      "chat_turn_duration_seconds",
			Help:      "End-to-end duration of streamed chat turns.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}

	m.registry.MustRegister(
		m.GenerationAttempts,
		m.Exhaustions,
		m.ContextAssemblies,
		m.ContextCacheHits,
		m.SessionsCreated,
		m.TurnDuration,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAttempt is wired as the orchestrator's attempt observer.
func (m *Metrics) ObserveAttempt(tier string, _ int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.GenerationAttempts.WithLabelValues(tier, outcome).Inc()
}
