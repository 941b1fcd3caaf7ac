// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gatekeeper"

var (
	// PipelineDecisions counts stage outcomes: allow, block, limit, error.
	PipelineDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "decisions_total",
			Help:      "Decisions taken by the request pipeline stages.",
		},
		[]string{"stage", "outcome"},
	)

	// FailOpen counts requests admitted because a backing store failed.
	FailOpen = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "fail_open_total",
			Help:      "Requests admitted because a stage could not reach its store.",
		},
		[]string{"stage"},
	)

	ActivityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity_log",
			Name:      "events_total",
			Help:      "Request events by lifecycle state: enqueued, dropped, persisted, failed.",
		},
		[]string{"state"},
	)

	ActivityQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "activity_log",
			Name:      "queue_depth",
			Help:      "Request events waiting to be persisted.",
		},
	)

	GeoLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "geo",
			Name:      "lookups_total",
			Help:      "Geolocation lookups by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	GeoLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "geo",
			Name:      "lookup_duration_seconds",
			Help:      "Latency of geolocation provider calls.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"provider"},
	)

	AnalyzerResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "addresses_total",
			Help:      "Addresses handled by the suspicious activity analyzer: flagged, blacklisted, skipped.",
		},
		[]string{"result"},
	)

	RetentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "deleted_events_total",
			Help:      "Request events removed by the retention sweeper.",
		},
	)

	DashboardCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dashboard",
			Name:      "cache_total",
			Help:      "Dashboard snapshot cache hits and misses.",
		},
		[]string{"result"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
