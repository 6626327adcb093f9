// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package registry maps topics to the connections subscribed to them.

All state is owned by the goroutine running Registry.Serve. Every public
method sends a closure to that goroutine and waits for it to run, so no lock
guards the maps. Membership is a set: subscribing twice to the same topic is a
no-op, and unsubscribing from a topic the connection never joined is too.

Serve is a suture service. State survives a restart of Serve; once the
supervising context is cancelled the registry reports ErrRegistryStopped.

Usage:

	reg := registry.New()
	tree.AddMessagingService(reg)

	_ = reg.Subscribe(ctx, clientID, "inventory:P1", "category:orders")
	ids, _ := reg.Resolve(ctx, []string{"inventory:P1", "category:inventory"})
*/
package registry
