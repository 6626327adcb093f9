// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package api is the administrative HTTP surface, routed with chi.

Routes:

	GET  /health                         upstream and transport status, 200 or 503
	GET  /health/history?limit=          persisted health samples, newest first
	GET  /metrics                        health monitor counters
	GET  /metrics/prometheus             Prometheus exposition
	GET  /clients                        connected sessions, no payloads
	GET  /alerts?severity=               unacknowledged, unexpired alerts
	POST /alerts/{id}/acknowledge        {"acknowledgedBy": "..."}
	GET  /alerts/thresholds              current thresholds
	PUT  /alerts/thresholds/{type}       {"threshold": 5, "severity": "high"}
	GET  /changes/{category}?limit=      recent change records, oldest first
	POST /detectors/{category}/run       one detection cycle, 409 while one runs
	GET  /ws                             websocket client protocol

Every JSON body except /health uses the models.APIResponse envelope. With
security.admin_auth enabled, the mutating routes require a bearer token
whose role the casbin policy allows for that resource.
*/
package api
