// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package detection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/tomtom215/changewatch/internal/config"
	"github.com/tomtom215/changewatch/internal/eventlog"
	"github.com/tomtom215/changewatch/internal/models"
	"github.com/tomtom215/changewatch/internal/snapshot"
	"github.com/tomtom215/changewatch/internal/upstream"
)

type recordingEmitter struct {
	mu      sync.Mutex
	records []*models.ChangeRecord
}

func (e *recordingEmitter) Submit(_ context.Context, rec *models.ChangeRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, rec)
	return nil
}

func (e *recordingEmitter) take() []*models.ChangeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.records
	e.records = nil
	return out
}

// failingLog fails AppendChange for one entity.
type failingLog struct {
	eventlog.Store
	failEntity string
}

func (f *failingLog) AppendChange(ctx context.Context, rec *models.ChangeRecord) error {
	if rec.EntityID == f.failEntity {
		return errors.New("disk full")
	}
	return f.Store.AppendChange(ctx, rec)
}

type harness struct {
	detector *Detector
	source   *upstream.MemorySource
	snap     *snapshot.Store
	log      eventlog.Store
	emitter  *recordingEmitter
	clock    *testclock.Clock
}

func newHarness(t *testing.T, c models.Category, log eventlog.Store) *harness {
	t.Helper()
	if log == nil {
		log = eventlog.NewMemoryStore()
	}
	h := &harness{
		source:  upstream.NewMemorySource(),
		snap:    snapshot.New(),
		log:     log,
		emitter: &recordingEmitter{},
		clock:   testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	h.detector = New(c, config.DetectorConfig{
		Enabled:   true,
		Interval:  5 * time.Second,
		Query:     "SELECT 1",
		KeyColumn: "id",
	}, Options{
		Source:       h.source,
		Snapshot:     h.snap,
		EventLog:     log,
		Emitter:      h.emitter,
		QueryTimeout: time.Second,
		Clock:        h.clock,
	})
	return h
}

func inv(id string, qty int64) models.Fields {
	return models.Fields{"id": id, "quantity": qty}
}

func TestRunOnce_UnchangedSampleEmitsNothing(t *testing.T) {
	h := newHarness(t, models.CategoryInventory, nil)
	ctx := context.Background()
	h.source.SetRows(models.CategoryInventory, inv("P1", 50), inv("P2", 10))

	res, err := h.detector.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if res.Changes != 2 {
		t.Errorf("first cycle changes = %d, want 2", res.Changes)
	}
	for _, rec := range h.emitter.take() {
		if rec.ChangeType != models.ChangeInitial || rec.OldValue != nil {
			t.Errorf("record %s = %q old=%v, want initial without old value", rec.EntityID, rec.ChangeType, rec.OldValue)
		}
	}

	for i := 0; i < 3; i++ {
		res, err = h.detector.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if res.Changes != 0 {
			t.Errorf("repeat cycle %d changes = %d, want 0", i, res.Changes)
		}
	}
	if got := h.emitter.take(); len(got) != 0 {
		t.Errorf("emitted %d records for unchanged samples", len(got))
	}
}

func TestRunOnce_DecreaseRecord(t *testing.T) {
	h := newHarness(t, models.CategoryInventory, nil)
	ctx := context.Background()

	h.source.SetRows(models.CategoryInventory, inv("P1", 50))
	_, _ = h.detector.RunOnce(ctx)
	h.emitter.take()

	h.clock.Advance(5 * time.Second)
	h.source.SetRows(models.CategoryInventory, inv("P1", 9))
	if _, err := h.detector.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	recs := h.emitter.take()
	if len(recs) != 1 {
		t.Fatalf("emitted %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.ChangeType != models.ChangeDecrease {
		t.Errorf("ChangeType = %q, want decrease", rec.ChangeType)
	}
	if rec.OldValue["quantity"] != int64(50) || rec.NewValue["quantity"] != int64(9) {
		t.Errorf("values = %v -> %v, want 50 -> 9", rec.OldValue, rec.NewValue)
	}
	if rec.Sequence != 2 {
		t.Errorf("Sequence = %d, want 2", rec.Sequence)
	}
	if !rec.DetectedAt.Equal(h.clock.Now()) {
		t.Errorf("DetectedAt = %v, want %v", rec.DetectedAt, h.clock.Now())
	}

	stored, _ := h.log.RecentChanges(ctx, models.CategoryInventory, 10)
	if len(stored) != 2 || stored[1].ID != rec.ID {
		t.Errorf("event log has %d records, want the decrease appended last", len(stored))
	}
	entry, _ := h.snap.Partition(models.CategoryInventory).Get("P1")
	if entry.Fields["quantity"] != int64(9) {
		t.Errorf("snapshot quantity = %v, want 9", entry.Fields["quantity"])
	}
}

func TestRunOnce_QueryFailureLeavesSnapshot(t *testing.T) {
	h := newHarness(t, models.CategoryInventory, nil)
	ctx := context.Background()

	h.source.SetRows(models.CategoryInventory, inv("P1", 50))
	_, _ = h.detector.RunOnce(ctx)

	h.source.SetRows(models.CategoryInventory, inv("P1", 1))
	h.source.SetQueryError(models.CategoryInventory, errors.New("connection reset"))
	_, err := h.detector.RunOnce(ctx)
	if !errors.Is(err, models.ErrUpstreamQuery) {
		t.Fatalf("RunOnce() error = %v, want ErrUpstreamQuery", err)
	}
	entry, _ := h.snap.Partition(models.CategoryInventory).Get("P1")
	if entry.Fields["quantity"] != int64(50) {
		t.Errorf("snapshot changed after failed query: %v", entry.Fields)
	}

	h.source.SetQueryError(models.CategoryInventory, nil)
	res, err := h.detector.RunOnce(ctx)
	if err != nil || res.Changes != 1 {
		t.Errorf("recovery cycle = %+v, %v; want one change", res, err)
	}
}

func TestRunOnce_QueryTimeout(t *testing.T) {
	h := newHarness(t, models.CategoryInventory, nil)
	h.detector.queryTimeout = 20 * time.Millisecond
	h.source.SetDelay(time.Second)
	h.source.SetRows(models.CategoryInventory, inv("P1", 50))

	_, err := h.detector.RunOnce(context.Background())
	if !errors.Is(err, models.ErrUpstreamQuery) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunOnce() error = %v, want timed-out upstream query", err)
	}
	if h.snap.Partition(models.CategoryInventory).Len() != 0 {
		t.Error("snapshot written by timed-out cycle")
	}
}

func TestRunOnce_BadEntitySkipped(t *testing.T) {
	h := newHarness(t, models.CategoryInventory, nil)
	ctx := context.Background()

	h.source.SetRows(models.CategoryInventory,
		inv("P1", 50),
		models.Fields{"quantity": int64(3)},
		inv("P2", 7),
	)
	res, err := h.detector.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if res.Changes != 2 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 2 changes and 1 skipped", res)
	}

	h.source.SetRows(models.CategoryInventory, models.Fields{"id": "P1", "quantity": "n/a"}, inv("P2", 6))
	res, _ = h.detector.RunOnce(ctx)
	if res.Changes != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want P2 changed and P1 skipped", res)
	}
}

func TestRunOnce_AppendFailureRetriedNextCycle(t *testing.T) {
	h := newHarness(t, models.CategoryInventory, &failingLog{Store: eventlog.NewMemoryStore(), failEntity: "P1"})
	ctx := context.Background()
	h.source.SetRows(models.CategoryInventory, inv("P1", 50), inv("P2", 5))

	res, _ := h.detector.RunOnce(ctx)
	if res.Changes != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want P1 skipped", res)
	}
	if _, ok := h.snap.Partition(models.CategoryInventory).Get("P1"); ok {
		t.Error("snapshot updated although append failed")
	}

	h.detector.log = h.log.(*failingLog).Store
	res, _ = h.detector.RunOnce(ctx)
	if res.Changes != 1 {
		t.Errorf("retry changes = %d, want 1", res.Changes)
	}
}

func TestRunOnce_SkipIfRunning(t *testing.T) {
	h := newHarness(t, models.CategoryInventory, nil)
	h.source.SetDelay(100 * time.Millisecond)
	h.source.SetRows(models.CategoryInventory, inv("P1", 50))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.detector.RunOnce(context.Background())
		}(i)
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	skipped := 0
	for _, err := range errs {
		if errors.Is(err, models.ErrCycleInProgress) {
			skipped++
		} else if err != nil {
			t.Errorf("RunOnce() error = %v", err)
		}
	}
	if skipped != 1 {
		t.Errorf("skipped cycles = %d, want 1", skipped)
	}
	if h.source.MaxInFlight() != 1 {
		t.Errorf("MaxInFlight() = %d, want 1", h.source.MaxInFlight())
	}
}

func TestRunOnce_CancelledContextStillCompletes(t *testing.T) {
	h := newHarness(t, models.CategoryInventory, nil)
	h.source.SetDelay(20 * time.Millisecond)
	h.source.SetRows(models.CategoryInventory, inv("P1", 50))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	res, err := h.detector.RunOnce(ctx)
	if err != nil || res.Changes != 1 {
		t.Errorf("RunOnce() = %+v, %v; want in-flight cycle to finish", res, err)
	}
}

func TestSeed_ContinuesSequence(t *testing.T) {
	log := eventlog.NewMemoryStore()
	ctx := context.Background()
	_ = log.AppendChange(ctx, &models.ChangeRecord{
		ID: "old", Category: models.CategoryInventory, EntityID: "P9", Sequence: 41,
		NewValue: inv("P9", 1), ChangeType: models.ChangeInitial, DetectedAt: time.Now(),
	})

	h := newHarness(t, models.CategoryInventory, log)
	if err := h.detector.Seed(ctx); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	h.source.SetRows(models.CategoryInventory, inv("P1", 50))
	_, _ = h.detector.RunOnce(ctx)

	recs := h.emitter.take()
	if len(recs) != 1 || recs[0].Sequence != 42 {
		t.Errorf("sequence after seed = %v, want 42", recs)
	}
}

func TestServe_RunsOnInterval(t *testing.T) {
	h := newHarness(t, models.CategoryOrders, nil)
	h.source.SetRows(models.CategoryOrders, models.Fields{"id": "O1", "status": "pending"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.detector.Serve(ctx) }()

	// Wait for the first cycle to finish without firing the timer.
	if err := h.clock.WaitAdvance(0, time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance() error = %v", err)
	}
	h.source.SetRows(models.CategoryOrders, models.Fields{"id": "O1", "status": "shipped"})
	if err := h.clock.WaitAdvance(5*time.Second, time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance() error = %v", err)
	}
	// The third wait proves the second cycle finished.
	if err := h.clock.WaitAdvance(time.Millisecond, time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance() error = %v", err)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}

	recs := h.emitter.take()
	if len(recs) < 2 || recs[1].ChangeType != models.ChangeTransition {
		t.Errorf("records = %d, want initial then transition", len(recs))
	}
	if h.detector.String() != "detector-orders" {
		t.Errorf("String() = %q", h.detector.String())
	}
}

func TestSet_Run(t *testing.T) {
	h := newHarness(t, models.CategoryActivity, nil)
	h.source.SetRows(models.CategoryActivity, models.Fields{"id": "web", "count": int64(3)})
	set := NewSet(h.detector)

	res, err := set.Run(context.Background(), models.CategoryActivity)
	if err != nil || res.Changes != 1 {
		t.Errorf("Run() = %+v, %v", res, err)
	}
	if _, err := set.Run(context.Background(), models.CategoryOrders); err == nil {
		t.Error("Run() for disabled category succeeded")
	}
	if len(set.All()) != 1 {
		t.Errorf("All() = %d detectors", len(set.All()))
	}
}
