// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package health

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/tomtom215/changewatch/internal/broadcast"
	"github.com/tomtom215/changewatch/internal/config"
	"github.com/tomtom215/changewatch/internal/eventlog"
	"github.com/tomtom215/changewatch/internal/models"
	"github.com/tomtom215/changewatch/internal/upstream"
)

type recordingPublisher struct {
	mu      sync.Mutex
	updates []models.HealthMetrics
}

func (p *recordingPublisher) PublishSystem(_ context.Context, m models.HealthMetrics) broadcast.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, m)
	return broadcast.Result{}
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

type recordingEvaluator struct {
	mu       sync.Mutex
	statuses []models.HealthStatus
}

func (e *recordingEvaluator) EvaluateHealth(_ context.Context, m models.HealthMetrics) []*models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses = append(e.statuses, m.Status)
	return nil
}

type fixedCount int

func (f fixedCount) Count() int { return int(f) }

type monitorEnv struct {
	source    *upstream.MemorySource
	log       *eventlog.MemoryStore
	publisher *recordingPublisher
	evaluator *recordingEvaluator
	clock     *testclock.Clock
	monitor   *Monitor
}

func newMonitorEnv(t *testing.T) *monitorEnv {
	t.Helper()
	env := &monitorEnv{
		source:    upstream.NewMemorySource(),
		log:       eventlog.NewMemoryStore(),
		publisher: &recordingPublisher{},
		evaluator: &recordingEvaluator{},
		clock:     testclock.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	env.monitor = New(config.HealthConfig{
		Interval:     30 * time.Second,
		CheckTimeout: time.Second,
		ErrorAfter:   3,
	}, Options{
		Pinger:      env.source,
		EventLog:    env.log,
		Publisher:   env.publisher,
		Connections: fixedCount(4),
		Clock:       env.clock,
	})
	env.monitor.SetAlertEvaluator(env.evaluator)
	return env
}

func TestMetrics_AggregatesCounters(t *testing.T) {
	env := newMonitorEnv(t)
	m := env.monitor

	m.RecordQuery(10 * time.Millisecond)
	m.RecordQuery(30 * time.Millisecond)
	m.RecordError()
	m.RecordChange()
	m.RecordChange()
	m.RecordAlert()

	got := m.Metrics()
	if got.QueriesExecuted != 2 || got.ErrorsOccurred != 1 {
		t.Errorf("queries/errors = %d/%d, want 2/1", got.QueriesExecuted, got.ErrorsOccurred)
	}
	if got.ChangesDetected != 2 || got.AlertsTriggered != 1 {
		t.Errorf("changes/alerts = %d/%d, want 2/1", got.ChangesDetected, got.AlertsTriggered)
	}
	if got.AverageQueryTime != 20 {
		t.Errorf("AverageQueryTime = %v, want 20", got.AverageQueryTime)
	}
	if got.ActiveConnections != 4 {
		t.Errorf("ActiveConnections = %d, want 4", got.ActiveConnections)
	}
	if got.Status != models.StatusHealthy {
		t.Errorf("Status = %q, want healthy before any check", got.Status)
	}
}

func TestMetrics_NoQueries(t *testing.T) {
	env := newMonitorEnv(t)
	if got := env.monitor.Metrics().AverageQueryTime; got != 0 {
		t.Errorf("AverageQueryTime = %v, want 0", got)
	}
}

func TestCheck_StatusProgression(t *testing.T) {
	env := newMonitorEnv(t)
	ctx := context.Background()
	env.source.SetPingError(errors.New("connection refused"))

	want := []models.HealthStatus{models.StatusUnhealthy, models.StatusUnhealthy, models.StatusError, models.StatusError}
	for i, w := range want {
		sample := env.monitor.Check(ctx)
		if got := env.monitor.Status(); got != w {
			t.Fatalf("check %d: Status() = %q, want %q", i+1, got, w)
		}
		if sample.CheckError == "" {
			t.Errorf("check %d: sample has no error", i+1)
		}
	}

	env.source.SetPingError(nil)
	env.monitor.Check(ctx)
	if got := env.monitor.Status(); got != models.StatusHealthy {
		t.Fatalf("Status() after recovery = %q, want healthy", got)
	}

	// Transitions only: unhealthy, error, healthy.
	env.evaluator.mu.Lock()
	statuses := append([]models.HealthStatus(nil), env.evaluator.statuses...)
	env.evaluator.mu.Unlock()
	wantTransitions := []models.HealthStatus{models.StatusUnhealthy, models.StatusError, models.StatusHealthy}
	if len(statuses) != len(wantTransitions) {
		t.Fatalf("evaluator saw %v, want %v", statuses, wantTransitions)
	}
	for i := range wantTransitions {
		if statuses[i] != wantTransitions[i] {
			t.Errorf("transition %d = %q, want %q", i, statuses[i], wantTransitions[i])
		}
	}

	if env.publisher.count() != 5 {
		t.Errorf("published %d system updates, want one per check", env.publisher.count())
	}
	samples, err := env.log.RecentHealthSamples(ctx, 10)
	if err != nil {
		t.Fatalf("RecentHealthSamples() error = %v", err)
	}
	if len(samples) != 5 {
		t.Errorf("persisted %d samples, want 5", len(samples))
	}
}

func TestReport(t *testing.T) {
	env := newMonitorEnv(t)
	ctx := context.Background()

	env.monitor.Check(ctx)
	report, code := env.monitor.Report()
	if code != http.StatusOK || report.Status != "healthy" {
		t.Errorf("Report() = %q/%d, want healthy/200", report.Status, code)
	}
	if report.Services["upstream"].LastCheck == nil {
		t.Error("upstream service has no last check time")
	}
	if c := report.Services["transport"].Clients; c == nil || *c != 4 {
		t.Errorf("transport clients = %v, want 4", c)
	}

	env.source.SetPingError(errors.New("timeout"))
	env.monitor.Check(ctx)
	report, code = env.monitor.Report()
	if code != http.StatusServiceUnavailable || report.Status != "degraded" {
		t.Errorf("Report() = %q/%d, want degraded/503", report.Status, code)
	}
	if report.Services["upstream"].Error != "timeout" {
		t.Errorf("upstream error = %q, want timeout", report.Services["upstream"].Error)
	}
}

func TestReport_OpenBreakerIsDegraded(t *testing.T) {
	env := newMonitorEnv(t)
	env.monitor.opts.BreakerState = func() string { return "open" }

	report, code := env.monitor.Report()
	if code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503 with open breaker", code)
	}
	if report.Services["upstream"].Breaker != "open" {
		t.Errorf("breaker = %q, want open", report.Services["upstream"].Breaker)
	}
}

func TestServe_ChecksOnInterval(t *testing.T) {
	env := newMonitorEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.monitor.Serve(ctx) }()

	// First check runs before the timer is armed.
	if err := env.clock.WaitAdvance(30*time.Second, time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance() error = %v", err)
	}
	if err := env.clock.WaitAdvance(0, time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance() error = %v", err)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
	if env.publisher.count() != 2 {
		t.Errorf("ran %d checks, want 2", env.publisher.count())
	}
	if env.monitor.String() != "health-monitor" {
		t.Errorf("String() = %q", env.monitor.String())
	}
}
