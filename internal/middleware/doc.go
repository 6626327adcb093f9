// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

// Package middleware holds HTTP instrumentation shared by the admin API.
//
// PrometheusMetrics labels requests by chi route pattern rather than raw
// path, so /alerts/{id}/acknowledge is one series regardless of the id.
package middleware
