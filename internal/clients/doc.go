// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package clients implements the connection manager.

A connection moves through Connecting, then Authenticated or Anonymous,
then Active, and finally Disconnected. Connect applies the per-address
sliding-window rate limit before anything else, verifies the optional
bearer token and degrades to anonymous on failure, and registers a
pending session. The transport replays the offline queue and then calls
Activate; until then the broadcaster queues messages for the session so
replayed and live messages keep their order.

On disconnect, topic memberships are released from the subscription
registry at once. A detached record keeps the released topic set for the
grace period so queued messages can still be addressed to the client id,
and a reconnect with the same id (and, for authenticated clients, the same
username) restores them. SweepDetached drops expired records and their
queues.

Established sessions are never disconnected for flooding: AllowMessage
drops and counts messages over the per-session token bucket.
*/
package clients
