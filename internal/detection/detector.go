// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package detection

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/tomtom215/changewatch/internal/config"
	"github.com/tomtom215/changewatch/internal/eventlog"
	"github.com/tomtom215/changewatch/internal/logging"
	"github.com/tomtom215/changewatch/internal/metrics"
	"github.com/tomtom215/changewatch/internal/models"
	"github.com/tomtom215/changewatch/internal/snapshot"
	"github.com/tomtom215/changewatch/internal/upstream"
)

// Emitter receives records once they are appended and snapshotted.
type Emitter interface {
	Submit(ctx context.Context, rec *models.ChangeRecord) error
}

// CycleResult summarizes one detection cycle.
type CycleResult struct {
	Category models.Category `json:"category"`
	Rows     int             `json:"rows"`
	Changes  int             `json:"changes"`
	Skipped  int             `json:"skipped"`
	Duration time.Duration   `json:"durationNs"`
}

// Detector samples one category.
type Detector struct {
	category     models.Category
	cfg          config.DetectorConfig
	queryTimeout time.Duration
	source       upstream.Source
	partition    *snapshot.Partition
	log          eventlog.Store
	emitter      Emitter
	clock        clock.Clock

	running  atomic.Bool
	sequence atomic.Uint64
}

// Options are the collaborators of a Detector.
type Options struct {
	Source       upstream.Source
	Snapshot     *snapshot.Store
	EventLog     eventlog.Store
	Emitter      Emitter
	QueryTimeout time.Duration
	Clock        clock.Clock
}

// New creates the detector of category c.
func New(c models.Category, cfg config.DetectorConfig, opts Options) *Detector {
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	timeout := opts.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Detector{
		category:     c,
		cfg:          cfg,
		queryTimeout: timeout,
		source:       opts.Source,
		partition:    opts.Snapshot.Partition(c),
		log:          opts.EventLog,
		emitter:      opts.Emitter,
		clock:        clk,
	}
}

// Category returns the detector's category.
func (d *Detector) Category() models.Category {
	return d.category
}

// Running reports whether a cycle is in flight.
func (d *Detector) Running() bool {
	return d.running.Load()
}

// Seed continues the sequence from the newest persisted record.
func (d *Detector) Seed(ctx context.Context) error {
	recent, err := d.log.RecentChanges(ctx, d.category, 1)
	if err != nil {
		return fmt.Errorf("seed %s sequence: %w", d.category, err)
	}
	if len(recent) > 0 {
		d.sequence.Store(recent[len(recent)-1].Sequence)
	}
	return nil
}

// Serve implements suture.Service. It runs a cycle at once and then on
// every interval until ctx is cancelled.
func (d *Detector) Serve(ctx context.Context) error {
	logging.Info().
		Str("category", string(d.category)).
		Dur("interval", d.cfg.Interval).
		Msg("Detector started")

	for {
		// Failures are logged and counted by RunOnce; the next tick retries.
		_, _ = d.RunOnce(ctx)

		select {
		case <-ctx.Done():
			logging.Info().Str("category", string(d.category)).Msg("Detector stopped")
			return ctx.Err()
		case <-d.clock.After(d.cfg.Interval):
		}
	}
}

// String implements fmt.Stringer for suture logs.
func (d *Detector) String() string {
	return "detector-" + string(d.category)
}

// RunOnce executes one cycle. It returns ErrCycleInProgress without doing
// anything when another cycle of this detector is running.
func (d *Detector) RunOnce(ctx context.Context) (CycleResult, error) {
	res := CycleResult{Category: d.category}
	if !d.running.CompareAndSwap(false, true) {
		metrics.RecordDetectionSkipped(string(d.category))
		return res, models.NewOpError(models.ErrCycleInProgress, "detect", string(d.category), nil)
	}
	defer d.running.Store(false)

	start := d.clock.Now()
	// In-flight work finishes or times out; it is never aborted mid-entity.
	work, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.queryTimeout)
	defer cancel()

	rows, err := d.source.Query(work, upstream.Query{Category: d.category, SQL: d.cfg.Query})
	if err != nil {
		err = models.NewOpError(models.ErrUpstreamQuery, "detect", string(d.category), err)
		res.Duration = d.clock.Now().Sub(start)
		metrics.RecordDetectionCycle(string(d.category), res.Duration, err)
		logging.Warn().Err(err).Str("category", string(d.category)).Msg("Detection cycle failed")
		return res, err
	}
	res.Rows = len(rows)

	for _, row := range rows {
		rec, err := d.detectEntity(work, row)
		if err != nil {
			res.Skipped++
			metrics.DetectionEntityErrors.WithLabelValues(string(d.category)).Inc()
			logging.Warn().Err(err).Str("category", string(d.category)).Msg("Skipping entity")
			continue
		}
		if rec == nil {
			continue
		}
		res.Changes++
		metrics.RecordChange(string(d.category), string(rec.ChangeType))

		if d.emitter != nil {
			if err := d.emitter.Submit(ctx, rec); err != nil {
				logging.Warn().Err(err).
					Str("category", string(d.category)).
					Str("entity_id", rec.EntityID).
					Msg("Failed to submit change record")
			}
		}
	}

	res.Duration = d.clock.Now().Sub(start)
	metrics.RecordDetectionCycle(string(d.category), res.Duration, nil)
	if res.Changes > 0 || res.Skipped > 0 {
		logging.Debug().
			Str("category", string(d.category)).
			Int("rows", res.Rows).
			Int("changes", res.Changes).
			Int("skipped", res.Skipped).
			Dur("duration", res.Duration).
			Msg("Detection cycle complete")
	}
	return res, nil
}

// detectEntity diffs one row and, when it changed, appends the record and
// updates the snapshot. It returns nil for an unchanged row.
func (d *Detector) detectEntity(ctx context.Context, row models.Fields) (*models.ChangeRecord, error) {
	id, err := entityID(row, d.cfg.KeyColumn)
	if err != nil {
		return nil, models.NewOpError(models.ErrDetection, "diff", string(d.category), err)
	}

	var prev models.Fields
	if entry, ok := d.partition.Get(id); ok {
		prev = entry.Fields
	}

	ct, changed, err := Diff(d.category, prev, row)
	if err != nil {
		return nil, models.NewOpError(models.ErrDetection, "diff", models.EntityTopic(d.category, id), err)
	}
	if !changed {
		return nil, nil
	}

	now := d.clock.Now()
	rec := &models.ChangeRecord{
		ID:         uuid.New().String(),
		Category:   d.category,
		EntityID:   id,
		OldValue:   prev,
		NewValue:   row.Clone(),
		ChangeType: ct,
		DetectedAt: now,
	}
	rec.Sequence = d.sequence.Add(1)

	err = d.log.AppendChange(ctx, rec)
	metrics.RecordEventLogWrite("change", err)
	if err != nil {
		// The snapshot is left as is, so the difference is seen again next cycle.
		return nil, models.NewOpError(models.ErrDetection, "append", models.EntityTopic(d.category, id), err)
	}

	d.partition.Put(id, row, now)
	return rec, nil
}
