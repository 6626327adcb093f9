// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package websocket is the client transport: it upgrades HTTP requests to
websocket connections and speaks the topic protocol over them.

Connection setup runs through the connection manager before the upgrade,
so a rate-limited address gets a plain 429 with Retry-After instead of a
websocket. After the upgrade the server sends a connected frame, replays
anything queued for a resumed client id and then dispatches inbound
frames:

	{"type":"subscribe","data":{"topics":["inventory:sku-1","category:orders"]}}
	{"type":"unsubscribe","data":{"topics":["category:orders"]}}
	{"type":"request","data":{"requestId":"r1","dataType":"snapshot","parameters":{"category":"inventory"}}}
	{"type":"ping"}

Every failed operation is answered with a scoped "<op>:error" event
rather than a disconnect. Each connection owns two goroutines: readPump
decodes and dispatches frames, writePump drains the session's outbound
buffer and sends keepalive pings.

Query parameters on the upgrade request:

  - token: bearer token when no Authorization header can be set
  - client_id: id of a previous session to resume
*/
package websocket
