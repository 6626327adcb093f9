// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package queue holds messages for clients that are briefly disconnected.

Each client id has a bounded FIFO. When a queue is full the oldest entry is
dropped to make room. Entries older than the retention window are never
returned by Drain and are removed by Sweep. Drain hands back the surviving
entries in enqueue order and empties the queue in one step.

Two backends implement Store:

  - MemoryStore: process-local, the default
  - RedisStore: a Redis list per client (RPUSH, LTRIM, PEXPIRE), so queues
    survive a restart of the server process

Select with queue.backend; RedisStore needs redis.addr.
*/
package queue
