// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package services adapts components without a native Serve method to the
suture v4 supervision model.

Most changewatch components (detectors, the dispatcher, the health monitor,
the alert engine, the connection manager) already implement
suture.Service and are added to the tree directly. The wrappers here cover
the rest:

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - Runs drain hooks before Shutdown so WebSocket clients receive a close
    frame while the listener is still up

Lifecycle components (LifecycleService):
  - Wraps anything with Start(ctx) error and Shutdown(ctx)
  - Used for the NATS event mirror and its embedded server

Example:

	srv := &http.Server{Addr: ":8080", Handler: router}
	svc := services.NewHTTPServerService(srv, 10*time.Second)
	svc.OnShutdown(func(ctx context.Context) { manager.CloseAll(ctx) })
	tree.AddAPIService(svc)
*/
package services
