// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

// Package health aggregates throughput and error counters and checks
// upstream connectivity on an interval.
//
// The upstream status moves to unhealthy on the first failed check and to
// error after a configured number of consecutive failures; one successful
// check returns it to healthy. Every check is persisted as a health
// sample and pushed to the system topic; a status transition is also
// handed to the alert engine.
package health
