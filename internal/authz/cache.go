// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package authz

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// decisionKey identifies one (role, object, action) decision.
type decisionKey struct {
	role, object, action string
}

type decision struct {
	allowed   bool
	expiresAt time.Time
}

// decisionCache memoizes policy decisions for ttl. Expired entries are
// dropped lazily: on lookup, and in a full sweep at most once per ttl.
type decisionCache struct {
	ttl   time.Duration
	clock clock.Clock

	mu        sync.Mutex
	entries   map[decisionKey]decision
	nextSweep time.Time
}

func newDecisionCache(ttl time.Duration, clk clock.Clock) *decisionCache {
	return &decisionCache{
		ttl:       ttl,
		clock:     clk,
		entries:   make(map[decisionKey]decision),
		nextSweep: clk.Now().Add(ttl),
	}
}

func (c *decisionCache) get(k decisionKey) (allowed, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, found := c.entries[k]
	if !found {
		return false, false
	}
	if !c.clock.Now().Before(d.expiresAt) {
		delete(c.entries, k)
		return false, false
	}
	return d.allowed, true
}

func (c *decisionCache) put(k decisionKey, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if !now.Before(c.nextSweep) {
		for key, d := range c.entries {
			if !now.Before(d.expiresAt) {
				delete(c.entries, key)
			}
		}
		c.nextSweep = now.Add(c.ttl)
	}
	c.entries[k] = decision{allowed: allowed, expiresAt: now.Add(c.ttl)}
}

func (c *decisionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *decisionCache) reset() {
	c.mu.Lock()
	c.entries = make(map[decisionKey]decision)
	c.mu.Unlock()
}
