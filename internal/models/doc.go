// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package models defines the data structures shared by every Changewatch component.

Key Components:

  - Sample: one row returned by an upstream query, keyed by entity id
  - ChangeRecord: a detected difference between a sample and its snapshot
  - Alert: a threshold crossing raised by the alert engine
  - HealthMetrics / HealthSample: aggregated counters published by the health monitor
  - QueuedMessage: a payload held for a disconnected client
  - Message: the envelope of the client wire protocol
  - APIResponse: the standard HTTP response wrapper

Error Taxonomy:

The component-local failure kinds are sentinel errors (ErrUpstreamQuery, ErrDetection,
ErrAlertPersist, ErrDelivery, ErrAuth, ErrRateLimitExceeded). Components wrap the
underlying cause in an OpError so callers can branch with errors.Is on the kind while
still logging the root cause:

	if errors.Is(err, models.ErrRateLimitExceeded) {
	    // reject the connection with RATE_LIMIT_EXCEEDED
	}

Thread Safety:

Model values are plain data. A ChangeRecord is immutable once emitted except for its
Processed flag, which is only written through the event log.
*/
package models
