// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

// Package eventprocessor mirrors change records and alerts to NATS
// JetStream through a Watermill publisher.
//
// The mirror is outbound only: nothing in changewatch consumes it. It lets
// downstream systems follow the same event stream WebSocket clients see
// without holding a socket open.
//
// # Subjects
//
//	<prefix>.changes.<category>   one message per ChangeRecord
//	<prefix>.alerts.<severity>    one message per raised Alert
//
// The prefix defaults to "changewatch". A single stream named after the
// upper-cased prefix captures "<prefix>.>" and deduplicates by Nats-Msg-Id,
// which is the record or alert ID.
//
// # Build Tags
//
// The NATS implementation requires -tags=nats. Without it NewMirror returns
// ErrNATSUnavailable and the server runs without a mirror:
//
//	go build -tags=nats ./cmd/server
//
// # Embedded Server
//
// With nats.embedded_server enabled the process starts its own nats-server
// with JetStream on nats.url's port and stores under nats.store_dir.
package eventprocessor
