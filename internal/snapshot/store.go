// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package snapshot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/changewatch/internal/metrics"
	"github.com/tomtom215/changewatch/internal/models"
)

// Entry is the last observed state of one entity.
type Entry struct {
	Fields     models.Fields `json:"fields"`
	ObservedAt time.Time     `json:"observed_at"`
}

// Partition is the key space of a single category.
type Partition struct {
	category models.Category

	mu      sync.RWMutex
	entries map[string]Entry
	dirty   map[string]struct{}
}

func newPartition(c models.Category) *Partition {
	return &Partition{
		category: c,
		entries:  make(map[string]Entry),
		dirty:    make(map[string]struct{}),
	}
}

// Category returns the category owning this partition.
func (p *Partition) Category() models.Category {
	return p.category
}

// Get returns the entry for entityID, if one was observed.
func (p *Partition) Get(entityID string) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[entityID]
	return e, ok
}

// Put replaces the entry for entityID. The field set is copied.
func (p *Partition) Put(entityID string, fields models.Fields, observedAt time.Time) {
	p.mu.Lock()
	_, existed := p.entries[entityID]
	p.entries[entityID] = Entry{Fields: fields.Clone(), ObservedAt: observedAt}
	p.dirty[entityID] = struct{}{}
	n := len(p.entries)
	p.mu.Unlock()

	if !existed {
		metrics.SnapshotEntities.WithLabelValues(string(p.category)).Set(float64(n))
	}
}

// List returns a copy of all entries keyed by entity id.
func (p *Partition) List() map[string]Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Entry, len(p.entries))
	for id, e := range p.entries {
		out[id] = Entry{Fields: e.Fields.Clone(), ObservedAt: e.ObservedAt}
	}
	return out
}

// IDs returns the tracked entity ids in sorted order.
func (p *Partition) IDs() []string {
	p.mu.RLock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of tracked entities.
func (p *Partition) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// takeDirty returns the entries changed since the last call and clears the set.
func (p *Partition) takeDirty() map[string]Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.dirty) == 0 {
		return nil
	}
	out := make(map[string]Entry, len(p.dirty))
	for id := range p.dirty {
		out[id] = p.entries[id]
	}
	p.dirty = make(map[string]struct{})
	return out
}

// markDirty puts keys back after a failed checkpoint.
func (p *Partition) markDirty(entries map[string]Entry) {
	p.mu.Lock()
	for id := range entries {
		p.dirty[id] = struct{}{}
	}
	p.mu.Unlock()
}

func (p *Partition) load(entries map[string]Entry) {
	p.mu.Lock()
	for id, e := range entries {
		p.entries[id] = e
	}
	n := len(p.entries)
	p.mu.Unlock()
	metrics.SnapshotEntities.WithLabelValues(string(p.category)).Set(float64(n))
}

// Store is the set of category partitions. The partition map is fixed at
// construction and never mutated afterwards.
type Store struct {
	partitions map[models.Category]*Partition
}

// New creates a store with one partition per known category.
func New() *Store {
	s := &Store{partitions: make(map[models.Category]*Partition, len(models.AllCategories))}
	for _, c := range models.AllCategories {
		s.partitions[c] = newPartition(c)
	}
	return s
}

// Partition returns the partition of a category.
func (s *Store) Partition(c models.Category) *Partition {
	p, ok := s.partitions[c]
	if !ok {
		panic(fmt.Sprintf("snapshot: unknown category %q", c))
	}
	return p
}

// Checkpointer persists and reloads snapshot entries.
type Checkpointer interface {
	Persist(ctx context.Context, category models.Category, entries map[string]Entry) error
	Load(ctx context.Context) (map[models.Category]map[string]Entry, error)
}

// Restore loads every stored entry into the store. It must run before the
// detectors start.
func (s *Store) Restore(ctx context.Context, cp Checkpointer) (int, error) {
	loaded, err := cp.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshot checkpoint: %w", err)
	}
	total := 0
	for c, entries := range loaded {
		p, ok := s.partitions[c]
		if !ok {
			continue
		}
		p.load(entries)
		total += len(entries)
	}
	return total, nil
}

// Checkpoint persists entries changed since the previous checkpoint and
// returns how many were written.
func (s *Store) Checkpoint(ctx context.Context, cp Checkpointer) (int, error) {
	written := 0
	for _, c := range models.AllCategories {
		p := s.partitions[c]
		dirty := p.takeDirty()
		if len(dirty) == 0 {
			continue
		}
		if err := cp.Persist(ctx, c, dirty); err != nil {
			p.markDirty(dirty)
			return written, fmt.Errorf("persist %s snapshot: %w", c, err)
		}
		written += len(dirty)
	}
	return written, nil
}
