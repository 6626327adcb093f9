// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

// Package alerting evaluates change records and health metrics against
// named thresholds and raises deduplicated alerts.
//
// Dedup is edge-triggered on (type, entityId): while an unacknowledged,
// unexpired alert exists for the pair, further crossings are suppressed.
// Acknowledgement or expiry re-arms the pair. An alert that cannot be
// persisted is still delivered and its write is retried from Serve.
package alerting
