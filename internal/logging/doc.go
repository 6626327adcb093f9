// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

// Package logging provides the process-wide zerolog logger used by every
// Changewatch component.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	logging.Info().Str("category", "inventory").Msg("detector started")
//	logging.Err(err).Str("client_id", id).Msg("delivery failed")
//
// Component loggers carry a fixed "component" field:
//
//	log := logging.WithComponent("broadcaster")
//	log.Debug().Int("recipients", n).Msg("fan-out")
//
// HTTP handlers use the request-scoped helpers, which add request_id and
// correlation_id when present:
//
//	logging.Ctx(r.Context()).Warn().Msg("acknowledge failed")
//
// # Adapters
//
// NewSlogLogger bridges to log/slog for sutureslog. Under the nats build tag,
// NewWatermillAdapter bridges to watermill.LoggerAdapter.
//
// Always terminate chains with Msg or Send; an unterminated event is never written.
package logging
