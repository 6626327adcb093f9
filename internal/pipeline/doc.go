// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

// Package pipeline is the single consumer of detector output.
//
// Detectors submit records in detection order. The dispatcher pushes each
// record to subscribers, evaluates alert rules, mirrors it to NATS when
// configured and marks it processed, one record at a time, so delivery to
// a connection preserves per-category order.
package pipeline
