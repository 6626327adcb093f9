// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package eventlog

import (
	"context"
	"time"

	"github.com/juju/clock"

	"github.com/tomtom215/changewatch/internal/config"
	"github.com/tomtom215/changewatch/internal/logging"
	"github.com/tomtom215/changewatch/internal/metrics"
)

// Cleaner applies the retention policy to a store on an interval.
type Cleaner struct {
	store     Store
	retention config.RetentionConfig
	clock     clock.Clock
}

// NewCleaner creates a cleanup service. A nil clk uses the wall clock.
func NewCleaner(store Store, retention config.RetentionConfig, clk clock.Clock) *Cleaner {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Cleaner{store: store, retention: retention, clock: clk}
}

// Serve implements suture.Service.
func (c *Cleaner) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.retention.CleanupInterval):
			if _, err := c.RunOnce(ctx); err != nil {
				logging.Warn().Err(err).Msg("Event log cleanup failed")
			}
		}
	}
}

// RunOnce purges everything older than the configured horizons.
func (c *Cleaner) RunOnce(ctx context.Context) (PurgeResult, error) {
	start := time.Now()
	res, err := c.store.Purge(ctx, PurgePolicy{
		Now:                c.clock.Now(),
		Changes:            c.retention.Changes,
		AcknowledgedAlerts: c.retention.AcknowledgedAlerts,
		HealthSamples:      c.retention.HealthSamples,
	})
	if err != nil {
		return res, err
	}

	metrics.EventLogPurged.WithLabelValues("change").Add(float64(res.Changes))
	metrics.EventLogPurged.WithLabelValues("alert").Add(float64(res.Alerts))
	metrics.EventLogPurged.WithLabelValues("health_sample").Add(float64(res.HealthSamples))

	if res.Total() > 0 {
		logging.Info().
			Int64("changes", res.Changes).
			Int64("alerts", res.Alerts).
			Int64("health_samples", res.HealthSamples).
			Dur("duration", time.Since(start)).
			Msg("Event log cleanup completed")
	}
	return res, nil
}

// String implements fmt.Stringer for suture logs.
func (c *Cleaner) String() string {
	return "eventlog-cleaner"
}
