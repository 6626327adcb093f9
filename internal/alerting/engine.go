// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/tomtom215/changewatch/internal/broadcast"
	"github.com/tomtom215/changewatch/internal/config"
	"github.com/tomtom215/changewatch/internal/eventlog"
	"github.com/tomtom215/changewatch/internal/logging"
	"github.com/tomtom215/changewatch/internal/metrics"
	"github.com/tomtom215/changewatch/internal/models"
)

// Notifier delivers alerts to subscribers.
type Notifier interface {
	PublishAlert(ctx context.Context, a *models.Alert) broadcast.Result
	PublishAcknowledged(ctx context.Context, a *models.Alert) broadcast.Result
}

// MetricsSource provides the health snapshot evaluated on every cycle.
type MetricsSource interface {
	Metrics() models.HealthMetrics
}

// Counter is told about every raised alert.
type Counter interface {
	RecordAlert()
}

// Options are the collaborators of an Engine.
type Options struct {
	EventLog eventlog.Store
	Notifier Notifier
	Health   MetricsSource // nil disables periodic health evaluation
	Counter  Counter
	Clock    clock.Clock
}

type pendingAlert struct {
	alert    *models.Alert
	attempts int
}

// Engine raises alerts.
type Engine struct {
	cfg      config.AlertsConfig
	log      eventlog.Store
	notifier Notifier
	health   MetricsSource
	counter  Counter
	clock    clock.Clock

	mu         sync.Mutex
	thresholds map[models.AlertType]models.Threshold
	active     map[models.DedupKey]*models.Alert
	pending    []*pendingAlert
}

// New creates an engine with the configured thresholds.
func New(cfg config.AlertsConfig, opts Options) *Engine {
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	return &Engine{
		cfg:        cfg,
		log:        opts.EventLog,
		notifier:   opts.Notifier,
		health:     opts.Health,
		counter:    opts.Counter,
		clock:      clk,
		thresholds: cfg.ThresholdModels(),
		active:     make(map[models.DedupKey]*models.Alert),
	}
}

// Evaluate runs the rules of rec's category and returns the alerts raised.
func (e *Engine) Evaluate(ctx context.Context, rec *models.ChangeRecord) []*models.Alert {
	return e.raiseAll(ctx, changeRules(rec, e.Thresholds()))
}

// EvaluateHealth runs the health rules against m.
func (e *Engine) EvaluateHealth(ctx context.Context, m models.HealthMetrics) []*models.Alert {
	return e.raiseAll(ctx, healthRules(m, e.Thresholds(), e.cfg.MinQueriesForRate))
}

func (e *Engine) raiseAll(ctx context.Context, cands []candidate) []*models.Alert {
	var raised []*models.Alert
	for _, c := range cands {
		if a := e.raise(ctx, c); a != nil {
			raised = append(raised, a)
		}
	}
	return raised
}

// raise creates, persists and delivers an alert unless an active one
// exists for the same pair.
func (e *Engine) raise(ctx context.Context, c candidate) *models.Alert {
	now := e.clock.Now()
	key := models.DedupKey{Type: c.Type, EntityID: c.EntityID}

	e.mu.Lock()
	if existing, ok := e.active[key]; ok && existing.Active(now) {
		e.mu.Unlock()
		metrics.AlertsSuppressed.WithLabelValues(string(c.Type)).Inc()
		return nil
	}
	th := e.thresholds[c.Type]
	a := &models.Alert{
		ID:          uuid.New().String(),
		Type:        c.Type,
		Severity:    th.Severity,
		Category:    c.Category,
		EntityID:    c.EntityID,
		Title:       c.Title,
		Message:     c.Message,
		Data:        c.Data,
		TriggeredAt: now,
		ExpiresAt:   now.Add(e.cfg.TTL),
	}
	e.active[key] = a
	activeCount := len(e.active)
	e.mu.Unlock()

	metrics.AlertsActive.Set(float64(activeCount))
	metrics.RecordAlert(string(a.Type), string(a.Severity))
	if e.counter != nil {
		e.counter.RecordAlert()
	}

	e.persist(ctx, a)

	logging.Info().
		Str("alert_id", a.ID).
		Str("alert_type", string(a.Type)).
		Str("severity", string(a.Severity)).
		Str("entity_id", a.EntityID).
		Msg(a.Title)

	if e.notifier != nil {
		e.notifier.PublishAlert(ctx, copyAlert(a))
	}
	return copyAlert(a)
}

// persist writes a once; a failure queues it for retry from Serve.
func (e *Engine) persist(ctx context.Context, a *models.Alert) {
	err := e.log.AppendAlert(ctx, copyAlert(a))
	metrics.RecordEventLogWrite("alert", err)
	if err == nil {
		return
	}

	metrics.AlertPersistFailures.Inc()
	logging.Warn().
		Err(models.NewOpError(models.ErrAlertPersist, "persist", a.ID, err)).
		Str("alert_type", string(a.Type)).
		Str("entity_id", a.EntityID).
		Msg("Alert persist failed, will retry")

	e.mu.Lock()
	e.pending = append(e.pending, &pendingAlert{alert: a, attempts: 1})
	n := len(e.pending)
	e.mu.Unlock()
	metrics.AlertsPendingPersist.Set(float64(n))
}

// RetryPending retries failed alert writes. Alerts that fail
// cfg.PersistRetries times in total are dropped from the retry list.
func (e *Engine) RetryPending(ctx context.Context) int {
	e.mu.Lock()
	batch := e.pending
	e.pending = nil
	e.mu.Unlock()

	written := 0
	var keep []*pendingAlert
	for _, p := range batch {
		e.mu.Lock()
		snapshot := copyAlert(p.alert)
		e.mu.Unlock()

		err := e.log.AppendAlert(ctx, snapshot)
		metrics.RecordEventLogWrite("alert", err)
		if err == nil {
			written++
			continue
		}
		p.attempts++
		if p.attempts >= e.cfg.PersistRetries {
			logging.Error().
				Err(models.NewOpError(models.ErrAlertPersist, "retry", p.alert.ID, err)).
				Int("attempts", p.attempts).
				Msg("Giving up on alert persist, alert kept in memory only")
			continue
		}
		keep = append(keep, p)
	}

	e.mu.Lock()
	e.pending = append(keep, e.pending...)
	n := len(e.pending)
	e.mu.Unlock()
	metrics.AlertsPendingPersist.Set(float64(n))
	return written
}

// PendingCount returns the number of alerts waiting to be persisted.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Acknowledge marks an alert acknowledged, re-arms its (type, entity) pair
// and notifies the alerts topic.
func (e *Engine) Acknowledge(ctx context.Context, id, by string) (*models.Alert, error) {
	now := e.clock.Now()

	a, err := e.log.AcknowledgeAlert(ctx, id, by, now)
	if errors.Is(err, models.ErrAlertNotFound) {
		a, err = e.acknowledgeUnpersisted(id, by, now)
	}
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if cur, ok := e.active[a.Key()]; ok && cur.ID == a.ID {
		delete(e.active, a.Key())
	}
	activeCount := len(e.active)
	e.mu.Unlock()

	metrics.AlertsActive.Set(float64(activeCount))
	metrics.AlertsAcknowledged.Inc()
	logging.Info().
		Str("alert_id", a.ID).
		Str("alert_type", string(a.Type)).
		Str("acknowledged_by", by).
		Msg("Alert acknowledged")

	if e.notifier != nil {
		e.notifier.PublishAcknowledged(ctx, copyAlert(a))
	}
	return a, nil
}

// acknowledgeUnpersisted handles an alert the event log does not hold:
// one still waiting for a retry, or one whose retries ran out and that
// lives only in the dedup index.
func (e *Engine) acknowledgeUnpersisted(id, by string, now time.Time) (*models.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var target *models.Alert
	for _, p := range e.pending {
		if p.alert.ID == id {
			target = p.alert
			break
		}
	}
	if target == nil {
		for _, a := range e.active {
			if a.ID == id {
				target = a
				break
			}
		}
	}
	if target == nil {
		return nil, models.ErrAlertNotFound
	}
	if target.Acknowledged {
		return nil, models.ErrAlertAlreadyAcknowledged
	}
	target.Acknowledged = true
	target.AcknowledgedBy = by
	at := now
	target.AcknowledgedAt = &at
	return copyAlert(target), nil
}

// Thresholds returns a copy of the current thresholds.
func (e *Engine) Thresholds() map[models.AlertType]models.Threshold {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[models.AlertType]models.Threshold, len(e.thresholds))
	for k, v := range e.thresholds {
		out[k] = v
	}
	return out
}

// UpdateThreshold replaces the threshold of a known alert type.
func (e *Engine) UpdateThreshold(t models.AlertType, th models.Threshold) error {
	known := false
	for _, at := range models.AllAlertTypes {
		if at == t {
			known = true
			break
		}
	}
	if !known {
		return models.NewOpError(models.ErrUnknownThreshold, "update", string(t), nil)
	}
	if _, err := models.ParseSeverity(string(th.Severity)); err != nil {
		return models.NewOpError(models.ErrUnknownThreshold, "update", string(t), err)
	}
	if th.Value < 0 {
		return models.NewOpError(models.ErrUnknownThreshold, "update", string(t), fmt.Errorf("threshold %v is negative", th.Value))
	}

	e.mu.Lock()
	prev := e.thresholds[t]
	e.thresholds[t] = th
	e.mu.Unlock()

	logging.Info().
		Str("alert_type", string(t)).
		Float64("old_threshold", prev.Value).
		Float64("new_threshold", th.Value).
		Str("severity", string(th.Severity)).
		Msg("Alert threshold updated")
	return nil
}

// Restore rebuilds the dedup index from unacknowledged, unexpired alerts
// in the event log. It must run before the engine evaluates anything.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	alerts, err := e.log.ActiveAlerts(ctx, "", e.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("restore active alerts: %w", err)
	}

	e.mu.Lock()
	for _, a := range alerts {
		// Newest first: keep the first alert seen per pair.
		if _, ok := e.active[a.Key()]; !ok {
			e.active[a.Key()] = a
		}
	}
	n := len(e.active)
	e.mu.Unlock()

	metrics.AlertsActive.Set(float64(n))
	return n, nil
}

// Active returns the active alerts known to the dedup index, newest first.
func (e *Engine) Active() []*models.Alert {
	now := e.clock.Now()
	e.mu.Lock()
	out := make([]*models.Alert, 0, len(e.active))
	for _, a := range e.active {
		if a.Active(now) {
			out = append(out, copyAlert(a))
		}
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	return out
}

// expire drops entries past their expiry from the dedup index.
func (e *Engine) expire() int {
	now := e.clock.Now()
	e.mu.Lock()
	removed := 0
	for k, a := range e.active {
		if !a.Active(now) {
			delete(e.active, k)
			removed++
		}
	}
	n := len(e.active)
	e.mu.Unlock()
	metrics.AlertsActive.Set(float64(n))
	return removed
}

// Serve implements suture.Service. Every evaluation interval it evaluates
// health metrics and expires the dedup index; failed writes are retried
// every persist retry delay.
func (e *Engine) Serve(ctx context.Context) error {
	nextEval := e.clock.Now().Add(e.cfg.EvaluationInterval)
	for {
		wait := nextEval.Sub(e.clock.Now())
		if e.PendingCount() > 0 && e.cfg.PersistRetryDelay > 0 && e.cfg.PersistRetryDelay < wait {
			wait = e.cfg.PersistRetryDelay
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(wait):
		}

		if e.PendingCount() > 0 {
			e.RetryPending(ctx)
		}
		if now := e.clock.Now(); !now.Before(nextEval) {
			nextEval = now.Add(e.cfg.EvaluationInterval)
			e.expire()
			if e.health != nil {
				e.EvaluateHealth(ctx, e.health.Metrics())
			}
		}
	}
}

// String implements fmt.Stringer for suture logs.
func (e *Engine) String() string {
	return "alert-engine"
}

func copyAlert(a *models.Alert) *models.Alert {
	cp := *a
	if a.Data != nil {
		cp.Data = make(map[string]interface{}, len(a.Data))
		for k, v := range a.Data {
			cp.Data[k] = v
		}
	}
	if a.AcknowledgedAt != nil {
		at := *a.AcknowledgedAt
		cp.AcknowledgedAt = &at
	}
	return &cp
}
