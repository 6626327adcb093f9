// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package supervisor arranges changewatch's long-running components in a
suture v4 supervision tree.

Every component with a Serve(ctx) error method is a suture.Service and is
restarted with exponential backoff when it returns an error or panics.
Failures decay over FailureDecay seconds; after FailureThreshold failures
within that window the supervisor pauses for FailureBackoff.

Supervisor events are logged through sutureslog into the zerolog-backed
slog handler from internal/logging.

Usage:

	tree, err := supervisor.NewSupervisorTree(slogger, supervisor.TreeConfigFrom(cfg.Supervisor))
	for _, d := range detectors.All() {
		tree.AddDetectionService(d)
	}
	tree.AddMessagingService(monitor)
	tree.AddAPIService(services.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))
	err = tree.Serve(ctx)
*/
package supervisor
