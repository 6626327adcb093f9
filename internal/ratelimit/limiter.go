// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package ratelimit

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// Limiter is a sliding-log limiter keyed by address. Safe for concurrent use.
type Limiter struct {
	limit  int
	window time.Duration
	clock  clock.Clock

	mu   sync.Mutex
	logs map[string][]time.Time
}

// New creates a limiter allowing limit attempts per window. A nil clk uses
// the wall clock.
func New(limit int, window time.Duration, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Limiter{
		limit:  limit,
		window: window,
		clock:  clk,
		logs:   make(map[string][]time.Time),
	}
}

// Allow records an attempt for key if it is within the limit.
// When rejected, retryAfter is the time until the oldest attempt expires.
func (l *Limiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	log := prune(l.logs[key], now.Add(-l.window))
	if len(log) >= l.limit {
		l.logs[key] = log
		return false, log[0].Add(l.window).Sub(now)
	}
	l.logs[key] = append(log, now)
	return true, 0
}

// Remaining returns how many attempts key may still make in the current window.
func (l *Limiter) Remaining(key string) int {
	cutoff := l.clock.Now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.limit - len(prune(l.logs[key], cutoff))
	if n < 0 {
		return 0
	}
	return n
}

// Sweep drops keys with no attempts inside the window and returns how many
// were removed.
func (l *Limiter) Sweep() int {
	cutoff := l.clock.Now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, log := range l.logs {
		log = prune(log, cutoff)
		if len(log) == 0 {
			delete(l.logs, key)
			removed++
			continue
		}
		l.logs[key] = log
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.logs)
}

// prune drops timestamps at or before cutoff. log is sorted ascending.
func prune(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return log
	}
	// copy to release the backing array prefix
	return append([]time.Time(nil), log[i:]...)
}
