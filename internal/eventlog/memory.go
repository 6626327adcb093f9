// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package eventlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/changewatch/internal/models"
)

// MemoryStore implements Store using in-memory storage.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu         sync.RWMutex
	changes    map[models.Category][]*models.ChangeRecord
	changeByID map[string]*models.ChangeRecord
	alerts     map[string]*models.Alert
	samples    []*models.HealthSample
	nextSample int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		changes:    make(map[models.Category][]*models.ChangeRecord),
		changeByID: make(map[string]*models.ChangeRecord),
		alerts:     make(map[string]*models.Alert),
	}
}

// AppendChange implements Store.
func (s *MemoryStore) AppendChange(ctx context.Context, rec *models.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.changeByID[rec.ID]; dup {
		return fmt.Errorf("change record %s already exists", rec.ID)
	}
	c := cloneChange(rec)
	s.changes[rec.Category] = append(s.changes[rec.Category], c)
	s.changeByID[rec.ID] = c
	return nil
}

// RecentChanges implements Store.
func (s *MemoryStore) RecentChanges(ctx context.Context, category models.Category, limit int) ([]*models.ChangeRecord, error) {
	limit = clampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.changes[category]
	start := 0
	if len(all) > limit {
		start = len(all) - limit
	}
	out := make([]*models.ChangeRecord, 0, len(all)-start)
	for _, r := range all[start:] {
		out = append(out, cloneChange(r))
	}
	return out, nil
}

// MarkProcessed implements Store. Unknown ids are ignored.
func (s *MemoryStore) MarkProcessed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.changeByID[id]; ok {
		r.Processed = true
	}
	return nil
}

// AppendAlert implements Store.
func (s *MemoryStore) AppendAlert(ctx context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = cloneAlert(alert)
	return nil
}

// GetAlert implements Store.
func (s *MemoryStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, models.ErrAlertNotFound
	}
	return cloneAlert(a), nil
}

// ActiveAlerts implements Store.
func (s *MemoryStore) ActiveAlerts(ctx context.Context, severity models.Severity, now time.Time) ([]*models.Alert, error) {
	s.mu.RLock()
	out := make([]*models.Alert, 0)
	for _, a := range s.alerts {
		if !a.Active(now) {
			continue
		}
		if severity != "" && a.Severity != severity {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	return out, nil
}

// AcknowledgeAlert implements Store.
func (s *MemoryStore) AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, models.ErrAlertNotFound
	}
	if a.Acknowledged {
		return nil, models.ErrAlertAlreadyAcknowledged
	}
	a.Acknowledged = true
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &at
	return cloneAlert(a), nil
}

// AppendHealthSample implements Store.
func (s *MemoryStore) AppendHealthSample(ctx context.Context, sample *models.HealthSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSample++
	sample.ID = s.nextSample
	c := *sample
	s.samples = append(s.samples, &c)
	return nil
}

// RecentHealthSamples implements Store.
func (s *MemoryStore) RecentHealthSamples(ctx context.Context, limit int) ([]*models.HealthSample, error) {
	limit = clampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.HealthSample, 0, limit)
	for i := len(s.samples) - 1; i >= 0 && len(out) < limit; i-- {
		c := *s.samples[i]
		out = append(out, &c)
	}
	return out, nil
}

// Purge implements Store.
func (s *MemoryStore) Purge(ctx context.Context, policy PurgePolicy) (PurgeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res PurgeResult
	changeCutoff := policy.changeCutoff()
	for cat, recs := range s.changes {
		kept := recs[:0]
		for _, r := range recs {
			if r.DetectedAt.Before(changeCutoff) {
				delete(s.changeByID, r.ID)
				res.Changes++
				continue
			}
			kept = append(kept, r)
		}
		s.changes[cat] = kept
	}

	for id, a := range s.alerts {
		if policy.purgeAlert(a) {
			delete(s.alerts, id)
			res.Alerts++
		}
	}

	sampleCutoff := policy.sampleCutoff()
	keptSamples := s.samples[:0]
	for _, hs := range s.samples {
		if hs.SampledAt.Before(sampleCutoff) {
			res.HealthSamples++
			continue
		}
		keptSamples = append(keptSamples, hs)
	}
	s.samples = keptSamples

	return res, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
