// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package models

import "time"

// HealthStatus is the upstream connectivity state.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusError     HealthStatus = "error"
)

// HealthMetrics are the aggregated counters exposed for external polling.
type HealthMetrics struct {
	Status            HealthStatus `json:"status"`
	QueriesExecuted   int64        `json:"queriesExecuted"`
	ErrorsOccurred    int64        `json:"errorsOccurred"`
	ChangesDetected   int64        `json:"changesDetected"`
	AlertsTriggered   int64        `json:"alertsTriggered"`
	AverageQueryTime  float64      `json:"averageQueryTime"`
	ActiveConnections int          `json:"activeConnections"`
	CollectedAt       time.Time    `json:"collectedAt"`
}

// ErrorRate returns errors per executed query.
func (m HealthMetrics) ErrorRate() float64 {
	if m.QueriesExecuted == 0 {
		return 0
	}
	return float64(m.ErrorsOccurred) / float64(m.QueriesExecuted)
}

// HealthSample is a persisted health check result.
type HealthSample struct {
	ID         int64         `json:"id,omitempty"`
	Metrics    HealthMetrics `json:"metrics"`
	Latency    time.Duration `json:"latencyNs"`
	CheckError string        `json:"checkError,omitempty"`
	SampledAt  time.Time     `json:"sampledAt"`
}
