// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package upstream is the query interface to the external store sampled by the
detectors.

A Source runs a sampling query and returns every row as a field map, and can
ping the store for health checks. Implementations:

  - SQLSource: any database/sql driver (DuckDB is linked in) with a bounded
    connection pool. Each query gets its own timeout; rows are read fully and
    the connection is returned to the pool before Query returns, so callers
    never hold a connection across their diff logic.
  - MemorySource: programmable rows and errors for tests.
  - BreakerSource: sony/gobreaker circuit breaker in front of another source.
  - InstrumentedSource: records duration and errors to Prometheus and to a
    Recorder (the health monitor).

SeedFixture creates a small demo schema in a DuckDB database and Simulator
perturbs its rows on an interval, so a local run has changes to detect.
*/
package upstream
