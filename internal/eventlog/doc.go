// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package eventlog is the append-only history of change records, alerts and
health samples.

Two Store implementations share one contract:

  - MemoryStore: mutex-guarded slices, lost on restart.
  - DuckDBStore: tables change_records, alerts and health_samples in a DuckDB
    database (in-memory or a file).

# Retention

Purge removes, relative to PurgePolicy.Now:

  - change records detected before Now - Changes
  - health samples taken before Now - HealthSamples
  - acknowledged alerts triggered before Now - AcknowledgedAlerts
  - unacknowledged alerts only once they expired before Now - AcknowledgedAlerts

An unacknowledged alert that has not expired is never purged, whatever its
age. The Cleaner service runs Purge on an interval.
*/
package eventlog
