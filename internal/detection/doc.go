// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package detection implements the per-category change detectors.

Each Detector samples one category from the upstream source on its own
interval, diffs every row against the category's snapshot partition and
emits a ChangeRecord for each difference:

	query upstream -> diff per entity -> append to event log
	               -> update snapshot -> submit for fan-out

Cycles of one detector never overlap: RunOnce returns ErrCycleInProgress
when a cycle (scheduled or manually triggered) is already running.
Different categories run concurrently, each owning its own partition.

A failed or timed-out query ends the cycle without touching the snapshot.
A row that cannot be diffed is skipped and the rest of the cycle
continues. The query and per-entity writes run on a context detached from
cancellation, bounded by the query timeout, so shutdown never leaves an
entity appended but not snapshotted.

Change types are derived from the category's primary field: numeric
fields move to increase or decrease, enum fields produce transition, and
a difference only in secondary fields is no_change.
*/
package detection
