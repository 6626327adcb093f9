// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package snapshot holds the last observed state of every tracked entity.

The store is split into one Partition per category. Each partition has a
single writer, the detector of that category, and any number of readers
(request handlers answering a "snapshot" request, the checkpoint service).
Partitions never share keys, so detectors of different categories never
contend.

Partitions track which keys changed since the last checkpoint. Checkpoint
writes only those keys to a Checkpointer; BadgerCheckpoint persists them so a
restart resumes diffing from the stored baseline instead of emitting an
initial record for every entity.
*/
package snapshot
