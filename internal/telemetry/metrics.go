// Package telemetry exposes prometheus instrumentation for the research
// engine and its collaborators. Collectors register once on the default
// registry and are served by the HTTP layer at /metrics.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	Iterations       prometheus.Histogram
	ModelCalls       *prometheus.CounterVec
	ModelLatency     prometheus.Histogram
	ToolCalls        *prometheus.CounterVec
	SearchResults    prometheus.Histogram
	SourcesSeen      prometheus.Counter
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// New returns the process-wide metrics set, registering collectors on first use.
func New() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "delver_sessions_started_total",
				Help: "Research sessions started",
			}),
			SessionsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "delver_sessions_finished_total",
				Help: "Research sessions reaching a terminal state",
			}, []string{"state"}),
			SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "delver_session_duration_seconds",
				Help:    "Wall-clock duration of research sessions",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			}),
			Iterations: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "delver_session_iterations",
				Help:    "Model-call cycles consumed per session",
				Buckets: prometheus.LinearBuckets(1, 2, 15),
			}),
			ModelCalls: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "delver_model_calls_total",
				Help: "Completion calls by outcome",
			}, []string{"outcome"}),
			ModelLatency: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "delver_model_latency_seconds",
				Help:    "Completion call latency",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			}),
			ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "delver_tool_calls_total",
				Help: "Tool dispatches by tool name and outcome",
			}, []string{"tool", "outcome"}),
			SearchResults: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "delver_search_results",
				Help:    "Documents returned per search call",
				Buckets: prometheus.LinearBuckets(0, 1, 11),
			}),
			SourcesSeen: promauto.NewCounter(prometheus.CounterOpts{
				Name: "delver_sources_registered_total",
				Help: "Net-new sources registered across all sessions",
			}),
		}
	})
	return metrics
}
