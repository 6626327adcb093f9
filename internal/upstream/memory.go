// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/changewatch/internal/models"
)

// MemorySource returns programmed rows. It is safe for concurrent use.
type MemorySource struct {
	mu        sync.Mutex
	rows      map[models.Category][]models.Fields
	queryErr  map[models.Category]error
	pingErr   error
	delay     time.Duration
	queries   map[models.Category]int
	inFlight  int
	maxFlight int
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		rows:     make(map[models.Category][]models.Fields),
		queryErr: make(map[models.Category]error),
		queries:  make(map[models.Category]int),
	}
}

// SetRows replaces the rows returned for a category.
func (m *MemorySource) SetRows(c models.Category, rows ...models.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[c] = rows
}

// SetQueryError makes queries for a category fail. nil clears it.
func (m *MemorySource) SetQueryError(c models.Category, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr[c] = err
}

// SetPingError makes Ping fail. nil clears it.
func (m *MemorySource) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// SetDelay makes every query block for d or until its context ends.
func (m *MemorySource) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Queries returns how many queries ran for a category.
func (m *MemorySource) Queries(c models.Category) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries[c]
}

// MaxInFlight returns the highest number of concurrent queries observed.
func (m *MemorySource) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxFlight
}

// Query implements Source.
func (m *MemorySource) Query(ctx context.Context, q Query) ([]models.Fields, error) {
	m.mu.Lock()
	m.queries[q.Category]++
	m.inFlight++
	if m.inFlight > m.maxFlight {
		m.maxFlight = m.inFlight
	}
	delay := m.delay
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.queryErr[q.Category]; err != nil {
		return nil, err
	}
	src := m.rows[q.Category]
	out := make([]models.Fields, len(src))
	for i, r := range src {
		out[i] = r.Clone()
	}
	return out, nil
}

// Ping implements Source.
func (m *MemorySource) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

// Close implements Source.
func (m *MemorySource) Close() error {
	return nil
}
