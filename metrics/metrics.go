package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync pipeline
	PropertiesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_properties_processed_total",
			Help: "Properties upserted by the sync orchestrator",
		},
		[]string{"sync_type"},
	)

	ChildRecordsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_child_records_upserted_total",
			Help: "Child records (media, rooms, open houses) upserted",
		},
		[]string{"sync_type", "entity"},
	)

	ChildFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_child_failures_total",
			Help: "Child fetch or upsert failures that were logged and skipped",
		},
		[]string{"sync_type", "entity"},
	)

	HistoryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_history_failures_total",
			Help: "Listing history derivations that failed",
		},
		[]string{"sync_type"},
	)

	Checkpoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_checkpoints_total",
			Help: "Cursor checkpoints persisted",
		},
		[]string{"sync_type"},
	)

	StallAborts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_stall_aborts_total",
			Help: "Runs aborted because the cursor stopped advancing",
		},
		[]string{"sync_type"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Duration of sync runs",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		},
		[]string{"sync_type", "outcome"},
	)

	// Feed client
	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_requests_total",
			Help: "Requests sent to the upstream feed",
		},
		[]string{"resource", "status"},
	)

	FeedRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_retries_total",
			Help: "Feed requests retried after a transient failure",
		},
		[]string{"resource"},
	)

	FeedRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_request_duration_seconds",
			Help:    "Latency of feed requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Side workers
	GeocodeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocode_results_total",
			Help: "Geocode lookups by outcome",
		},
		[]string{"outcome"}, // "found", "not_found", "error"
	)

	MediaMirrored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_mirror_total",
			Help: "Media mirror attempts by outcome",
		},
		[]string{"outcome"},
	)

	// API
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)
)
