// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package queue

import (
	"context"
	"sync"

	"github.com/juju/clock"

	"github.com/tomtom215/changewatch/internal/metrics"
	"github.com/tomtom215/changewatch/internal/models"
)

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	opts  Options
	clock clock.Clock

	mu     sync.Mutex
	queues map[string][]models.QueuedMessage
}

// NewMemoryStore creates an in-memory queue store. A nil clk uses the wall clock.
func NewMemoryStore(opts Options, clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.WallClock
	}
	return &MemoryStore{
		opts:   opts,
		clock:  clk,
		queues: make(map[string][]models.QueuedMessage),
	}
}

// Enqueue implements Store.
func (s *MemoryStore) Enqueue(ctx context.Context, clientID string, msg models.Message) error {
	entry := models.QueuedMessage{ClientID: clientID, Payload: msg, QueuedAt: s.clock.Now()}

	s.mu.Lock()
	defer s.mu.Unlock()

	q := append(s.queues[clientID], entry)
	if over := len(q) - s.opts.MaxSize; over > 0 {
		metrics.QueueEvictions.Add(float64(over))
		q = append([]models.QueuedMessage(nil), q[over:]...)
	}
	s.queues[clientID] = q
	return nil
}

// Requeue implements Store.
func (s *MemoryStore) Requeue(ctx context.Context, clientID string, entries []models.QueuedMessage) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q := make([]models.QueuedMessage, 0, len(entries)+len(s.queues[clientID]))
	for _, e := range entries {
		e.ClientID = clientID
		q = append(q, e)
	}
	q = append(q, s.queues[clientID]...)
	if over := len(q) - s.opts.MaxSize; over > 0 {
		metrics.QueueEvictions.Add(float64(over))
		q = q[over:]
	}
	s.queues[clientID] = q
	return nil
}

// Drain implements Store.
func (s *MemoryStore) Drain(ctx context.Context, clientID string) ([]models.QueuedMessage, error) {
	cutoff := s.clock.Now().Add(-s.opts.Retention)

	s.mu.Lock()
	q := s.queues[clientID]
	delete(s.queues, clientID)
	s.mu.Unlock()

	return unexpired(q, cutoff), nil
}

// Discard implements Store.
func (s *MemoryStore) Discard(ctx context.Context, clientID string) error {
	s.mu.Lock()
	delete(s.queues, clientID)
	s.mu.Unlock()
	return nil
}

// Len implements Store.
func (s *MemoryStore) Len(ctx context.Context, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[clientID]), nil
}

// Sweep implements Store.
func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.opts.Retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, q := range s.queues {
		kept := unexpired(q, cutoff)
		removed += len(q) - len(kept)
		if len(kept) == 0 {
			delete(s.queues, id)
			continue
		}
		s.queues[id] = kept
	}
	return removed, nil
}
