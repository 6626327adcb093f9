// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package config provides centralized configuration management for Changewatch.

Configuration is layered with Koanf v2: built-in defaults, then an optional
YAML file (CONFIG_PATH, ./config.yaml or /etc/changewatch/config.yaml), then
environment variables. Only environment variables listed in the mapping table
are read; anything else in the environment is ignored.

# Sections

  - server: HTTP listener (HTTP_HOST, HTTP_PORT)
  - upstream: sampled store (UPSTREAM_DRIVER, UPSTREAM_DSN, UPSTREAM_QUERY_TIMEOUT, UPSTREAM_MAX_CONNS)
  - detectors: per-category interval and query (INVENTORY_INTERVAL, ORDERS_QUERY, ...)
  - alerts: TTL, periodic evaluation, persist retries and the thresholds map
  - connections: address rate limit, grace period, per-session flood limit
  - queue, redis: offline queue bounds and backend (QUEUE_BACKEND, REDIS_ADDR)
  - retention: purge horizons for changes, acknowledged alerts and health samples
  - health: check interval and the consecutive-failure count that means error
  - snapshot, eventlog: persistence of detector state and history
  - security: JWT secret, admin API protection, CORS, API rate limit
  - nats: optional event mirror (requires the nats build tag)
  - logging, supervisor

Thresholds have no environment mapping; set them in the config file:

	alerts:
	  thresholds:
	    low_stock:
	      threshold: 10
	      severity: high

# Validation

Load runs go-playground/validator over the struct tags, then cross-field
checks: redis backend requires redis.addr, acknowledged alert retention must
not be shorter than change retention, low_stock must not sit below
out_of_stock, and a configured JWT secret must be at least 32 characters.
*/
package config
