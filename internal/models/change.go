// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package models

import (
	"fmt"
	"time"
)

// Category names a monitored domain. Each category is owned by exactly one detector.
type Category string

const (
	CategoryInventory Category = "inventory"
	CategoryOrders    Category = "orders"
	CategoryActivity  Category = "activity"
	CategorySystem    Category = "system"
)

// AllCategories lists the categories in a stable order.
var AllCategories = []Category{
	CategoryInventory,
	CategoryOrders,
	CategoryActivity,
	CategorySystem,
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	for _, c := range AllCategories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// ChangeType classifies how the primary field of an entity moved.
type ChangeType string

const (
	ChangeInitial    ChangeType = "initial"
	ChangeIncrease   ChangeType = "increase"
	ChangeDecrease   ChangeType = "decrease"
	ChangeNoChange   ChangeType = "no_change"
	ChangeTransition ChangeType = "transition"
)

// Fields is the observed field set of one entity.
type Fields map[string]interface{}

// Clone returns a shallow copy so snapshots never alias query rows.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Sample is one entity as returned by an upstream query.
type Sample struct {
	EntityID string `json:"entityId"`
	Fields   Fields `json:"fields"`
}

// ChangeRecord is emitted once per observed difference between a sample and the
// last known snapshot of the same entity.
type ChangeRecord struct {
	ID         string     `json:"id"`
	Category   Category   `json:"category"`
	EntityID   string     `json:"entityId"`
	Sequence   uint64     `json:"sequence"`
	OldValue   Fields     `json:"oldValue,omitempty"`
	NewValue   Fields     `json:"newValue"`
	ChangeType ChangeType `json:"changeType"`
	DetectedAt time.Time  `json:"detectedAt"`
	Processed  bool       `json:"processed"`
}

// Topic returns the per-entity topic, e.g. "inventory:P1".
func (r *ChangeRecord) Topic() string {
	return EntityTopic(r.Category, r.EntityID)
}

// EntityTopic builds "<category>:<entityId>".
func EntityTopic(c Category, entityID string) string {
	return string(c) + ":" + entityID
}

// CategoryTopic builds "category:<category>".
func CategoryTopic(c Category) string {
	return "category:" + string(c)
}

// RoleTopic builds "role:<role>".
func RoleTopic(role string) string {
	return "role:" + role
}

// PriorityTopic builds "priority:<severity>".
func PriorityTopic(s Severity) string {
	return "priority:" + string(s)
}

const (
	// TopicAlerts receives every alert.
	TopicAlerts = "alerts"
	// TopicSystem receives system:update pushes.
	TopicSystem = "system"
)
