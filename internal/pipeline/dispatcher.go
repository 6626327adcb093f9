// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package pipeline

import (
	"context"
	"time"

	"github.com/tomtom215/changewatch/internal/broadcast"
	"github.com/tomtom215/changewatch/internal/eventlog"
	"github.com/tomtom215/changewatch/internal/logging"
	"github.com/tomtom215/changewatch/internal/metrics"
	"github.com/tomtom215/changewatch/internal/models"
)

// DefaultBuffer is the number of records a dispatcher holds before
// Submit blocks.
const DefaultBuffer = 1024

// drainTimeout bounds processing of buffered records at shutdown.
const drainTimeout = 5 * time.Second

// ChangePublisher pushes change records to subscribers.
type ChangePublisher interface {
	PublishChange(ctx context.Context, rec *models.ChangeRecord) broadcast.Result
}

// Evaluator raises alerts for change records.
type Evaluator interface {
	Evaluate(ctx context.Context, rec *models.ChangeRecord) []*models.Alert
}

// Mirror copies events to an external bus.
type Mirror interface {
	PublishChange(ctx context.Context, rec *models.ChangeRecord) error
	PublishAlert(ctx context.Context, a *models.Alert) error
}

// Counter is told about every processed change.
type Counter interface {
	RecordChange()
}

// Options are the stages of a Dispatcher. Nil stages are skipped.
type Options struct {
	Publisher ChangePublisher
	Alerts    Evaluator
	Mirror    Mirror
	EventLog  eventlog.Store
	Counter   Counter
	Buffer    int
}

// Dispatcher serializes the emit path.
type Dispatcher struct {
	opts    Options
	records chan *models.ChangeRecord
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	return &Dispatcher{opts: opts, records: make(chan *models.ChangeRecord, opts.Buffer)}
}

// Submit queues rec. It blocks while the buffer is full.
func (d *Dispatcher) Submit(ctx context.Context, rec *models.ChangeRecord) error {
	select {
	case d.records <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve implements suture.Service.
func (d *Dispatcher) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case rec := <-d.records:
			d.Process(ctx, rec)
		}
	}
}

// drain processes records still buffered at shutdown.
func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	n := 0
	for {
		select {
		case rec := <-d.records:
			d.Process(ctx, rec)
			n++
		default:
			if n > 0 {
				logging.Info().Int("records", n).Msg("Dispatched buffered change records at shutdown")
			}
			return
		}
	}
}

// Process runs every stage for one record.
func (d *Dispatcher) Process(ctx context.Context, rec *models.ChangeRecord) {
	if d.opts.Counter != nil {
		d.opts.Counter.RecordChange()
	}

	if d.opts.Publisher != nil {
		res := d.opts.Publisher.PublishChange(ctx, rec)
		if res.Failed > 0 {
			logging.Debug().
				Str("category", string(rec.Category)).
				Str("entity_id", rec.EntityID).
				Int("failed", res.Failed).
				Msg("Change delivery partially failed")
		}
	}

	if d.opts.Alerts != nil {
		d.opts.Alerts.Evaluate(ctx, rec)
	}

	if d.opts.Mirror != nil {
		err := d.opts.Mirror.PublishChange(ctx, rec)
		metrics.RecordMirror("change", err)
		if err != nil {
			logging.Warn().Err(err).Str("change_id", rec.ID).Msg("Failed to mirror change record")
		}
	}

	if d.opts.EventLog != nil {
		if err := d.opts.EventLog.MarkProcessed(ctx, rec.ID); err != nil {
			logging.Warn().Err(err).Str("change_id", rec.ID).Msg("Failed to mark change processed")
		}
	}
}

// String implements fmt.Stringer for suture logs.
func (d *Dispatcher) String() string {
	return "change-dispatcher"
}
