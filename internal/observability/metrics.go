package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "absens",
		Name:      "submissions_total",
		Help:      "Record submissions by kind and indexing outcome",
	}, []string{"kind", "indexing"})

	IndexJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "absens",
		Name:      "index_jobs_total",
		Help:      "Index job outcomes (dispatched, dispatch_failed, indexed, failed, retried)",
	}, []string{"outcome"})

	RecognitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "absens",
		Name:      "recognition_request_duration_seconds",
		Help:      "Duration of calls to the recognition service",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"op", "outcome"})

	RecognitionBreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "absens",
		Name:      "recognition_breaker_open",
		Help:      "1 while the recognition circuit breaker is open",
	})

	MatchSearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "absens",
		Name:      "match_searches_total",
		Help:      "Match searches by outcome (matched, no_candidates, stale, degraded, skipped, error)",
	}, []string{"outcome"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "absens",
		Name:      "status_transitions_total",
		Help:      "Applied sighting status transitions",
	}, []string{"from", "to"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "absens",
		Name:      "queue_depth",
		Help:      "Number of pending index tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "absens",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "absens",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
