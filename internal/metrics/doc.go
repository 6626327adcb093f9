// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package metrics provides Prometheus collectors for every component.

Collectors are registered with the default registry through promauto and are
exposed at /metrics/prometheus in text format. The JSON /metrics endpoint
serves the health monitor counters instead.

# Available Metrics

Detection:
  - upstream_query_duration_seconds, upstream_query_errors_total (category)
  - detection_cycles_total (category, result: ok, error, skipped)
  - detection_cycle_duration_seconds, detection_entity_errors_total
  - changes_detected_total (category, change_type)
  - snapshot_entities (category)

Alerts:
  - alerts_triggered_total (type, severity)
  - alerts_suppressed_total (type)
  - alerts_acknowledged_total, alerts_active
  - alert_persist_failures_total, alerts_pending_persist

Connections and delivery:
  - connections_active, connection_attempts_total (result)
  - connections_resumed_total, auth_failures_total
  - client_messages_dropped_total, subscriptions_active
  - messages_delivered_total, messages_queued_total (type)
  - delivery_errors_total (reason), messages_replayed_total, queue_evictions_total

Event log and health:
  - eventlog_writes_total (kind, result), eventlog_purged_total (kind)
  - upstream_health_status, upstream_health_check_duration_seconds

Circuit breaker:
  - circuit_breaker_state (name; 0=closed, 1=half-open, 2=open)
  - circuit_breaker_requests_total (name, result)
  - circuit_breaker_consecutive_failures (name)
  - circuit_breaker_state_transitions_total (name, from_state, to_state)

Usage:

	start := time.Now()
	rows, err := src.Query(ctx, q)
	metrics.RecordUpstreamQuery("inventory", time.Since(start), err)
*/
package metrics
