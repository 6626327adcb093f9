// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package detection

import (
	"context"
	"fmt"

	"github.com/tomtom215/changewatch/internal/models"
)

// Set indexes the enabled detectors by category.
type Set struct {
	detectors map[models.Category]*Detector
	order     []models.Category
}

// NewSet creates a set. Later detectors replace earlier ones of the same category.
func NewSet(detectors ...*Detector) *Set {
	s := &Set{detectors: make(map[models.Category]*Detector, len(detectors))}
	for _, d := range detectors {
		if _, dup := s.detectors[d.category]; !dup {
			s.order = append(s.order, d.category)
		}
		s.detectors[d.category] = d
	}
	return s
}

// Get returns the detector of c.
func (s *Set) Get(c models.Category) (*Detector, bool) {
	d, ok := s.detectors[c]
	return d, ok
}

// All returns detectors in registration order.
func (s *Set) All() []*Detector {
	out := make([]*Detector, 0, len(s.order))
	for _, c := range s.order {
		out = append(out, s.detectors[c])
	}
	return out
}

// Run triggers one cycle of category c outside its schedule.
func (s *Set) Run(ctx context.Context, c models.Category) (CycleResult, error) {
	d, ok := s.detectors[c]
	if !ok {
		return CycleResult{Category: c}, fmt.Errorf("detector %q is not enabled", c)
	}
	return d.RunOnce(ctx)
}

// Seed continues every detector's sequence from the event log.
func (s *Set) Seed(ctx context.Context) error {
	for _, d := range s.All() {
		if err := d.Seed(ctx); err != nil {
			return err
		}
	}
	return nil
}
