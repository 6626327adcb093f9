// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package models

import (
	"fmt"
	"time"
)

// Severity is the priority of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a severity name.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// AlertType names an alert rule and its threshold entry.
type AlertType string

const (
	AlertLowStock          AlertType = "low_stock"
	AlertOutOfStock        AlertType = "out_of_stock"
	AlertHighValueOrder    AlertType = "high_value_order"
	AlertOrderFailed       AlertType = "order_failed"
	AlertActivitySpike     AlertType = "activity_spike"
	AlertSlowQuery         AlertType = "slow_query"
	AlertHighErrorRate     AlertType = "high_error_rate"
	AlertConnectionFailure AlertType = "connection_failure"
)

// AllAlertTypes lists every rule the engine knows.
var AllAlertTypes = []AlertType{
	AlertLowStock,
	AlertOutOfStock,
	AlertHighValueOrder,
	AlertOrderFailed,
	AlertActivitySpike,
	AlertSlowQuery,
	AlertHighErrorRate,
	AlertConnectionFailure,
}

// HealthEntity is the entity id used for alerts raised from health metrics.
const HealthEntity = "upstream"

// Alert is raised when a threshold is crossed. At most one unacknowledged,
// unexpired alert exists per (Type, EntityID).
type Alert struct {
	ID             string                 `json:"id"`
	Type           AlertType              `json:"type"`
	Severity       Severity               `json:"severity"`
	Category       Category               `json:"category,omitempty"`
	EntityID       string                 `json:"entityId"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	Data           map[string]interface{} `json:"data,omitempty"`
	TriggeredAt    time.Time              `json:"triggeredAt"`
	Acknowledged   bool                   `json:"acknowledged"`
	AcknowledgedBy string                 `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time             `json:"acknowledgedAt,omitempty"`
	ExpiresAt      time.Time              `json:"expiresAt"`
}

// Active reports whether the alert still suppresses duplicates at now.
func (a *Alert) Active(now time.Time) bool {
	return !a.Acknowledged && now.Before(a.ExpiresAt)
}

// DedupKey identifies the (type, entity) pair used for edge-triggered dedup.
type DedupKey struct {
	Type     AlertType
	EntityID string
}

// Key returns the dedup key of the alert.
func (a *Alert) Key() DedupKey {
	return DedupKey{Type: a.Type, EntityID: a.EntityID}
}

// Threshold is the runtime-mutable configuration of one alert type.
type Threshold struct {
	Value    float64  `json:"threshold" validate:"gte=0"`
	Severity Severity `json:"severity" validate:"required,oneof=low medium high critical"`
}
