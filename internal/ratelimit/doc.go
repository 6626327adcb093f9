// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package ratelimit limits connection setup per originating address.

The limiter keeps an exact log of accepted attempts per key and rejects an
attempt once the key already has Limit accepted attempts inside the trailing
Window. Rejected attempts are not logged, so a key regains capacity as soon as
its oldest accepted attempt leaves the window.

Usage:

	limiter := ratelimit.New(100, time.Minute, nil)
	if ok, retryAfter := limiter.Allow(addr); !ok {
		// reject with RATE_LIMIT_EXCEEDED, Retry-After: retryAfter
	}

Idle keys are removed by Sweep, which the connection manager calls on its
sweep interval.
*/
package ratelimit
