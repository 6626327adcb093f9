// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

// Package main is the entry point for the changewatch server.
//
// Changewatch samples an upstream SQL store per category (inventory,
// orders, activity, system), diffs every row against the last known
// snapshot and fans the resulting change records and threshold alerts out
// to WebSocket clients by topic.
//
// # Startup Order
//
//  1. Configuration: defaults, optional YAML, environment (koanf v2)
//  2. Upstream: open the driver, seed the fixture when enabled, ping (fatal on failure)
//  3. Event log and snapshot store: restore checkpoints and active alerts
//  4. Connection layer: rate limiter, registry, offline queue, connection manager, broadcaster
//  5. Emit path: alert engine, dispatcher, optional NATS mirror
//  6. Detectors: one per enabled category, sequence seeded from the event log
//  7. HTTP: admin API and /ws
//  8. Supervisor tree: every loop above runs as a suture service
//
// # Build Tags
//
//	go build ./cmd/server                 # default build
//	go build -tags nats ./cmd/server      # with the NATS event mirror
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the tree. Detectors let in-flight queries
// finish or time out, connected clients get a close frame, then the HTTP
// server drains for server.shutdown_timeout.
//
// # Example
//
//	export UPSTREAM_DSN=/data/shop.duckdb
//	export JWT_SECRET=$(openssl rand -base64 32)
//	export ADMIN_AUTH=true
//	./changewatch
package main
