// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package broadcast fans change records, alerts and health updates out to
subscribed connections.

For each event the broadcaster resolves its topic set through the
subscription registry, adds detached clients whose retained topics match,
and delivers to every recipient exactly once in client id order:

  - active sessions get a non-blocking send into their buffer; a full
    buffer closes the session and the message goes to its queue
  - sessions still replaying, and detached clients inside the grace
    period, get the message appended to their offline queue
  - unknown ids are skipped

A failure for one recipient never blocks the others.

Replay drains a reconnecting client's queue in enqueue order. The final
drain and the switch to active happen under the publish lock, so a
message is either replayed or delivered live, never both and never out
of order.
*/
package broadcast
