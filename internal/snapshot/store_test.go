// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/changewatch/internal/models"
)

func TestPartition_GetPut(t *testing.T) {
	s := New()
	p := s.Partition(models.CategoryInventory)

	if _, ok := p.Get("P1"); ok {
		t.Fatal("expected no entry before first Put")
	}

	fields := models.Fields{"quantity": 50}
	now := time.Now()
	p.Put("P1", fields, now)

	fields["quantity"] = 1 // must not alias the stored copy
	e, ok := p.Get("P1")
	if !ok {
		t.Fatal("expected entry after Put")
	}
	if e.Fields["quantity"] != 50 {
		t.Errorf("quantity = %v, want 50", e.Fields["quantity"])
	}
	if !e.ObservedAt.Equal(now) {
		t.Errorf("ObservedAt = %v, want %v", e.ObservedAt, now)
	}
	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}
}

func TestPartitions_AreIsolated(t *testing.T) {
	s := New()
	s.Partition(models.CategoryInventory).Put("X", models.Fields{"quantity": 1}, time.Now())

	if _, ok := s.Partition(models.CategoryOrders).Get("X"); ok {
		t.Error("orders partition should not see inventory keys")
	}
}

func TestPartition_ListAndIDs(t *testing.T) {
	p := New().Partition(models.CategoryActivity)
	p.Put("b", models.Fields{"count": 2}, time.Now())
	p.Put("a", models.Fields{"count": 1}, time.Now())

	ids := p.IDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("IDs() = %v, want [a b]", ids)
	}

	list := p.List()
	list["a"].Fields["count"] = 99
	if e, _ := p.Get("a"); e.Fields["count"] != 1 {
		t.Error("List() must return copies")
	}
}

func TestPartition_ConcurrentReaders(t *testing.T) {
	p := New().Partition(models.CategorySystem)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			p.Put("cpu", models.Fields{"value": i}, time.Now())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = p.List()
			_, _ = p.Get("cpu")
		}
	}()
	wg.Wait()
}

type failingCheckpointer struct {
	mu    sync.Mutex
	calls int
}

func (f *failingCheckpointer) Persist(context.Context, models.Category, map[string]Entry) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("disk full")
}

func (f *failingCheckpointer) Load(context.Context) (map[models.Category]map[string]Entry, error) {
	return nil, nil
}

func newTestBadger(t *testing.T) *BadgerCheckpoint {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerCheckpoint(db)
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	ctx := context.Background()
	cp := newTestBadger(t)

	src := New()
	src.Partition(models.CategoryInventory).Put("P1", models.Fields{"quantity": 9, "name": "Widget"}, time.Now())
	src.Partition(models.CategoryOrders).Put("O1", models.Fields{"status": "pending"}, time.Now())

	n, err := src.Checkpoint(ctx, cp)
	if err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	if n != 2 {
		t.Errorf("written = %d, want 2", n)
	}

	// Nothing changed since the last checkpoint.
	if n, _ := src.Checkpoint(ctx, cp); n != 0 {
		t.Errorf("second checkpoint wrote %d entries, want 0", n)
	}

	dst := New()
	restored, err := dst.Restore(ctx, cp)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored != 2 {
		t.Errorf("restored = %d, want 2", restored)
	}
	e, ok := dst.Partition(models.CategoryInventory).Get("P1")
	if !ok {
		t.Fatal("P1 not restored")
	}
	// JSON round trip decodes numbers as float64
	if e.Fields["quantity"] != float64(9) || e.Fields["name"] != "Widget" {
		t.Errorf("restored fields = %v", e.Fields)
	}
	if dst.Partition(models.CategoryOrders).Len() != 1 {
		t.Error("orders entry not restored")
	}
}

func TestCheckpoint_FailureKeepsDirty(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Partition(models.CategoryInventory).Put("P1", models.Fields{"quantity": 1}, time.Now())

	if _, err := s.Checkpoint(ctx, &failingCheckpointer{}); err == nil {
		t.Fatal("expected error from failing checkpointer")
	}

	cp := newTestBadger(t)
	n, err := s.Checkpoint(ctx, cp)
	if err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	if n != 1 {
		t.Errorf("entries should stay dirty after a failed checkpoint: wrote %d", n)
	}
}

func TestCheckpointService_FlushesOnStop(t *testing.T) {
	cp := newTestBadger(t)
	s := New()
	s.Partition(models.CategoryActivity).Put("web", models.Fields{"count": 3}, time.Now())

	svc := NewCheckpointService(s, cp, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}

	loaded, err := cp.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := loaded[models.CategoryActivity]["web"]; !ok {
		t.Error("final checkpoint not written on stop")
	}
	if svc.String() != "snapshot-checkpoint" {
		t.Errorf("String() = %q", svc.String())
	}
}
