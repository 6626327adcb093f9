// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package eventlog

import (
	"context"
	"time"

	"github.com/tomtom215/changewatch/internal/models"
)

// DefaultLimit applies when a caller asks for zero or fewer records.
const DefaultLimit = 50

// MaxLimit caps any single read.
const MaxLimit = 1000

// Store persists change records, alerts and health samples.
type Store interface {
	AppendChange(ctx context.Context, rec *models.ChangeRecord) error
	// RecentChanges returns the newest limit records of a category in
	// detection order (oldest first).
	RecentChanges(ctx context.Context, category models.Category, limit int) ([]*models.ChangeRecord, error)
	MarkProcessed(ctx context.Context, id string) error

	// AppendAlert inserts or replaces an alert by id.
	AppendAlert(ctx context.Context, alert *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	// ActiveAlerts returns unacknowledged alerts unexpired at now, newest first.
	// An empty severity matches all.
	ActiveAlerts(ctx context.Context, severity models.Severity, now time.Time) ([]*models.Alert, error)
	AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) (*models.Alert, error)

	// AppendHealthSample assigns sample.ID.
	AppendHealthSample(ctx context.Context, sample *models.HealthSample) error
	// RecentHealthSamples returns the newest limit samples, newest first.
	RecentHealthSamples(ctx context.Context, limit int) ([]*models.HealthSample, error)

	Purge(ctx context.Context, policy PurgePolicy) (PurgeResult, error)
	Close() error
}

// PurgePolicy holds the horizons of one cleanup run.
type PurgePolicy struct {
	Now                time.Time
	Changes            time.Duration
	AcknowledgedAlerts time.Duration
	HealthSamples      time.Duration
}

func (p PurgePolicy) changeCutoff() time.Time { return p.Now.Add(-p.Changes) }
func (p PurgePolicy) alertCutoff() time.Time  { return p.Now.Add(-p.AcknowledgedAlerts) }
func (p PurgePolicy) sampleCutoff() time.Time { return p.Now.Add(-p.HealthSamples) }

// purgeAlert reports whether an alert falls outside the policy.
func (p PurgePolicy) purgeAlert(a *models.Alert) bool {
	cutoff := p.alertCutoff()
	if a.Acknowledged {
		return a.TriggeredAt.Before(cutoff)
	}
	return a.ExpiresAt.Before(cutoff)
}

// PurgeResult counts removed rows.
type PurgeResult struct {
	Changes       int64 `json:"changes"`
	Alerts        int64 `json:"alerts"`
	HealthSamples int64 `json:"healthSamples"`
}

// Total returns the number of removed rows.
func (r PurgeResult) Total() int64 {
	return r.Changes + r.Alerts + r.HealthSamples
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func cloneAlert(a *models.Alert) *models.Alert {
	c := *a
	if a.Data != nil {
		c.Data = make(map[string]interface{}, len(a.Data))
		for k, v := range a.Data {
			c.Data[k] = v
		}
	}
	if a.AcknowledgedAt != nil {
		at := *a.AcknowledgedAt
		c.AcknowledgedAt = &at
	}
	return &c
}

func cloneChange(r *models.ChangeRecord) *models.ChangeRecord {
	c := *r
	c.OldValue = r.OldValue.Clone()
	c.NewValue = r.NewValue.Clone()
	return &c
}
