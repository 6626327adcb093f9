// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/tomtom215/changewatch/internal/broadcast"
	"github.com/tomtom215/changewatch/internal/config"
	"github.com/tomtom215/changewatch/internal/eventlog"
	"github.com/tomtom215/changewatch/internal/logging"
	"github.com/tomtom215/changewatch/internal/metrics"
	"github.com/tomtom215/changewatch/internal/models"
)

// Pinger checks upstream connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemPublisher pushes system:update events.
type SystemPublisher interface {
	PublishSystem(ctx context.Context, m models.HealthMetrics) broadcast.Result
}

// AlertEvaluator raises alerts from a health snapshot.
type AlertEvaluator interface {
	EvaluateHealth(ctx context.Context, m models.HealthMetrics) []*models.Alert
}

// ConnectionCounter reports the number of connected clients.
type ConnectionCounter interface {
	Count() int
}

// Options are the collaborators of a Monitor. All but Pinger may be nil.
type Options struct {
	Pinger      Pinger
	EventLog    eventlog.Store
	Publisher   SystemPublisher
	Connections ConnectionCounter
	// BreakerState reports the upstream circuit breaker state, if any.
	BreakerState func() string
	Clock        clock.Clock
}

// Monitor is the health monitor.
type Monitor struct {
	cfg  config.HealthConfig
	opts Options

	queries    atomic.Int64
	errors     atomic.Int64
	changes    atomic.Int64
	alerts     atomic.Int64
	queryNanos atomic.Int64

	mu          sync.RWMutex
	evaluator   AlertEvaluator
	status      models.HealthStatus
	failures    int
	lastCheck   time.Time
	lastLatency time.Duration
	lastError   string
}

// New creates a monitor. The status is healthy until the first check says otherwise.
func New(cfg config.HealthConfig, opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if cfg.ErrorAfter <= 0 {
		cfg.ErrorAfter = 3
	}
	return &Monitor{cfg: cfg, opts: opts, status: models.StatusHealthy}
}

// SetAlertEvaluator wires the alert engine. Call before Serve.
func (m *Monitor) SetAlertEvaluator(e AlertEvaluator) {
	m.mu.Lock()
	m.evaluator = e
	m.mu.Unlock()
}

// RecordQuery counts an executed upstream query.
func (m *Monitor) RecordQuery(d time.Duration) {
	m.queries.Add(1)
	m.queryNanos.Add(int64(d))
}

// RecordError counts a failed upstream query.
func (m *Monitor) RecordError() {
	m.errors.Add(1)
}

// RecordChange counts a detected change.
func (m *Monitor) RecordChange() {
	m.changes.Add(1)
}

// RecordAlert counts a raised alert.
func (m *Monitor) RecordAlert() {
	m.alerts.Add(1)
}

// Status returns the current upstream status.
func (m *Monitor) Status() models.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Metrics returns the current counters.
func (m *Monitor) Metrics() models.HealthMetrics {
	queries := m.queries.Load()
	var avg float64
	if queries > 0 {
		avg = float64(m.queryNanos.Load()) / float64(queries) / float64(time.Millisecond)
	}
	conns := 0
	if m.opts.Connections != nil {
		conns = m.opts.Connections.Count()
	}
	return models.HealthMetrics{
		Status:            m.Status(),
		QueriesExecuted:   queries,
		ErrorsOccurred:    m.errors.Load(),
		ChangesDetected:   m.changes.Load(),
		AlertsTriggered:   m.alerts.Load(),
		AverageQueryTime:  avg,
		ActiveConnections: conns,
		CollectedAt:       m.opts.Clock.Now(),
	}
}

// Check pings upstream, updates the status, persists a sample and pushes
// a system update.
func (m *Monitor) Check(ctx context.Context) *models.HealthSample {
	start := m.opts.Clock.Now()
	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	err := m.opts.Pinger.Ping(pingCtx)
	cancel()
	latency := m.opts.Clock.Now().Sub(start)
	metrics.HealthCheckDuration.Observe(latency.Seconds())

	m.mu.Lock()
	prev := m.status
	if err != nil {
		m.failures++
		if m.failures >= m.cfg.ErrorAfter {
			m.status = models.StatusError
		} else {
			m.status = models.StatusUnhealthy
		}
		m.lastError = err.Error()
	} else {
		m.failures = 0
		m.status = models.StatusHealthy
		m.lastError = ""
	}
	m.lastCheck = start
	m.lastLatency = latency
	cur := m.status
	evaluator := m.evaluator
	m.mu.Unlock()

	metrics.HealthStatus.Set(statusValue(cur))

	snapshot := m.Metrics()
	sample := &models.HealthSample{
		Metrics:   snapshot,
		Latency:   latency,
		SampledAt: start,
	}
	if err != nil {
		sample.CheckError = err.Error()
	}

	if m.opts.EventLog != nil {
		werr := m.opts.EventLog.AppendHealthSample(ctx, sample)
		metrics.RecordEventLogWrite("health_sample", werr)
		if werr != nil {
			logging.Warn().Err(werr).Msg("Failed to persist health sample")
		}
	}

	if cur != prev {
		ev := logging.Warn()
		if cur == models.StatusHealthy {
			ev = logging.Info()
		}
		ev.Str("from", string(prev)).Str("to", string(cur)).Str("error", sample.CheckError).Msg("Upstream health changed")
		if evaluator != nil {
			evaluator.EvaluateHealth(ctx, snapshot)
		}
	}

	if m.opts.Publisher != nil {
		m.opts.Publisher.PublishSystem(ctx, snapshot)
	}
	return sample
}

// Serve implements suture.Service. It checks at once and then on every interval.
func (m *Monitor) Serve(ctx context.Context) error {
	for {
		m.Check(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.opts.Clock.After(m.cfg.Interval):
		}
	}
}

// String implements fmt.Stringer for suture logs.
func (m *Monitor) String() string {
	return "health-monitor"
}

// ServiceStatus is one entry of a health report.
type ServiceStatus struct {
	Status    string     `json:"status"`
	LastCheck *time.Time `json:"lastCheck,omitempty"`
	LatencyMs float64    `json:"latencyMs,omitempty"`
	Error     string     `json:"error,omitempty"`
	Breaker   string     `json:"breaker,omitempty"`
	Clients   *int       `json:"clients,omitempty"`
}

// Report is the body of GET /health.
type Report struct {
	Status    string                   `json:"status"`
	Services  map[string]ServiceStatus `json:"services"`
	Timestamp time.Time                `json:"timestamp"`
}

// Report returns the last known status without running a check, and the
// HTTP status code to serve it with.
func (m *Monitor) Report() (Report, int) {
	m.mu.RLock()
	status := m.status
	lastCheck := m.lastCheck
	latency := m.lastLatency
	lastErr := m.lastError
	m.mu.RUnlock()

	up := ServiceStatus{Status: string(status), Error: lastErr}
	if !lastCheck.IsZero() {
		lc := lastCheck
		up.LastCheck = &lc
		up.LatencyMs = float64(latency) / float64(time.Millisecond)
	}
	if m.opts.BreakerState != nil {
		up.Breaker = m.opts.BreakerState()
	}

	transport := ServiceStatus{Status: string(models.StatusHealthy)}
	if m.opts.Connections != nil {
		n := m.opts.Connections.Count()
		transport.Clients = &n
	}

	overall, code := "healthy", http.StatusOK
	if status != models.StatusHealthy || up.Breaker == "open" {
		overall, code = "degraded", http.StatusServiceUnavailable
	}
	return Report{
		Status:    overall,
		Services:  map[string]ServiceStatus{"transport": transport, "upstream": up},
		Timestamp: m.opts.Clock.Now(),
	}, code
}

func statusValue(s models.HealthStatus) float64 {
	switch s {
	case models.StatusHealthy:
		return 0
	case models.StatusUnhealthy:
		return 1
	default:
		return 2
	}
}
