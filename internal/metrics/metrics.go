// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream Metrics
	UpstreamQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_query_duration_seconds",
			Help:    "Duration of upstream sampling queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	UpstreamQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_query_errors_total",
			Help: "Total number of failed or timed out upstream queries",
		},
		[]string{"category"},
	)

	// Detection Metrics
	DetectionCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_cycles_total",
			Help: "Total number of detection cycles by outcome",
		},
		[]string{"category", "result"}, // result: "ok", "error", "skipped"
	)

	DetectionCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detection_cycle_duration_seconds",
			Help:    "Duration of a full poll-diff-emit cycle",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"category"},
	)

	DetectionEntityErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_entity_errors_total",
			Help: "Entities skipped because their sample could not be diffed",
		},
		[]string{"category"},
	)

	ChangesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "changes_detected_total",
			Help: "Total number of change records emitted",
		},
		[]string{"category", "change_type"},
	)

	SnapshotEntities = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapshot_entities",
			Help: "Number of tracked entities per category",
		},
		[]string{"category"},
	)

	// Alert Metrics
	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_triggered_total",
			Help: "Total number of alerts raised",
		},
		[]string{"type", "severity"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_suppressed_total",
			Help: "Threshold crossings suppressed by an active alert for the same entity",
		},
		[]string{"type"},
	)

	AlertsAcknowledged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_acknowledged_total",
			Help: "Total number of acknowledged alerts",
		},
	)

	AlertPersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alert_persist_failures_total",
			Help: "Alert writes to the event log that failed after all retries",
		},
	)

	AlertsPendingPersist = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alerts_pending_persist",
			Help: "Alerts delivered but not yet written to the event log",
		},
	)

	AlertsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alerts_active",
			Help: "Unacknowledged, unexpired alerts in the dedup index",
		},
	)

	// Connection Metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "connections_active",
			Help: "Current number of connected clients",
		},
	)

	ConnectionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connection_attempts_total",
			Help: "Connection setups by outcome",
		},
		[]string{"result"}, // "authenticated", "anonymous", "rate_limited"
	)

	ConnectionsResumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "connections_resumed_total",
			Help: "Connections which resumed a previous client id",
		},
	)

	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Tokens that failed verification and degraded to anonymous",
		},
	)

	MessagesFlooded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "client_messages_dropped_total",
			Help: "Inbound client messages dropped by the per-session flood limit",
		},
	)

	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subscriptions_active",
			Help: "Current number of (connection, topic) memberships",
		},
	)

	// Delivery Metrics
	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_delivered_total",
			Help: "Messages handed to a live connection",
		},
		[]string{"type"},
	)

	MessagesQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_queued_total",
			Help: "Messages stored for a disconnected client",
		},
		[]string{"type"},
	)

	DeliveryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_errors_total",
			Help: "Failed deliveries to one connection",
		},
		[]string{"reason"}, // "buffer_full", "queue", "closed"
	)

	MessagesReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_replayed_total",
			Help: "Queued messages delivered on reconnect",
		},
	)

	QueueEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_evictions_total",
			Help: "Queued messages dropped for exceeding the per-client cap or retention",
		},
	)

	// Event Log Metrics
	EventLogWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventlog_writes_total",
			Help: "Event log appends by record kind and result",
		},
		[]string{"kind", "result"},
	)

	EventLogPurged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventlog_purged_total",
			Help: "Rows removed by retention cleanup",
		},
		[]string{"kind"},
	)

	// Health Metrics
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "upstream_health_status",
			Help: "Upstream health (0=healthy, 1=unhealthy, 2=error)",
		},
	)

	HealthCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "upstream_health_check_duration_seconds",
			Help:    "Duration of upstream connectivity checks",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// NATS Mirror Metrics
	MirrorPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_published_total",
			Help: "Events mirrored to NATS",
		},
		[]string{"kind"},
	)

	MirrorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_errors_total",
			Help: "Failed NATS mirror publishes",
		},
		[]string{"kind"},
	)
)

// RecordUpstreamQuery records one upstream query.
func RecordUpstreamQuery(category string, duration time.Duration, err error) {
	UpstreamQueryDuration.WithLabelValues(category).Observe(duration.Seconds())
	if err != nil {
		UpstreamQueryErrors.WithLabelValues(category).Inc()
	}
}

// RecordDetectionCycle records a completed or failed cycle.
func RecordDetectionCycle(category string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	DetectionCycles.WithLabelValues(category, result).Inc()
	DetectionCycleDuration.WithLabelValues(category).Observe(duration.Seconds())
}

// RecordDetectionSkipped records a tick that found the previous cycle still running.
func RecordDetectionSkipped(category string) {
	DetectionCycles.WithLabelValues(category, "skipped").Inc()
}

// RecordChange records an emitted change record.
func RecordChange(category, changeType string) {
	ChangesDetected.WithLabelValues(category, changeType).Inc()
}

// RecordAlert records a raised alert.
func RecordAlert(alertType, severity string) {
	AlertsTriggered.WithLabelValues(alertType, severity).Inc()
}

// RecordConnection records a connection setup outcome.
func RecordConnection(result string) {
	ConnectionAttempts.WithLabelValues(result).Inc()
}

// RecordDelivery records a message handed to a live connection or a queue.
func RecordDelivery(msgType string, queued bool) {
	if queued {
		MessagesQueued.WithLabelValues(msgType).Inc()
		return
	}
	MessagesDelivered.WithLabelValues(msgType).Inc()
}

// RecordEventLogWrite records an event log append.
func RecordEventLogWrite(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventLogWrites.WithLabelValues(kind, result).Inc()
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordMirror records a NATS mirror publish.
func RecordMirror(kind string, err error) {
	if err != nil {
		MirrorErrors.WithLabelValues(kind).Inc()
		return
	}
	MirrorPublished.WithLabelValues(kind).Inc()
}
