// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package upstream

import (
	"context"
	"time"

	"github.com/tomtom215/changewatch/internal/metrics"
	"github.com/tomtom215/changewatch/internal/models"
)

// Recorder receives query outcomes. The health monitor implements it.
type Recorder interface {
	RecordQuery(d time.Duration)
	RecordError()
}

// InstrumentedSource reports every query to Prometheus and a Recorder.
type InstrumentedSource struct {
	next     Source
	recorder Recorder
}

// NewInstrumentedSource wraps next. recorder may be nil.
func NewInstrumentedSource(next Source, recorder Recorder) *InstrumentedSource {
	return &InstrumentedSource{next: next, recorder: recorder}
}

// Query implements Source.
func (s *InstrumentedSource) Query(ctx context.Context, q Query) ([]models.Fields, error) {
	start := time.Now()
	rows, err := s.next.Query(ctx, q)
	elapsed := time.Since(start)

	metrics.RecordUpstreamQuery(string(q.Category), elapsed, err)
	if s.recorder != nil {
		s.recorder.RecordQuery(elapsed)
		if err != nil {
			s.recorder.RecordError()
		}
	}
	return rows, err
}

// Ping implements Source.
func (s *InstrumentedSource) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

// Close implements Source.
func (s *InstrumentedSource) Close() error {
	return s.next.Close()
}

// BreakerState returns the state of a wrapped BreakerSource, or "" if there is none.
func BreakerState(src Source) string {
	for {
		switch s := src.(type) {
		case *BreakerSource:
			return s.State()
		case *InstrumentedSource:
			src = s.next
		default:
			return ""
		}
	}
}
