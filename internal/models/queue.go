// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package models

import "time"

// QueuedMessage is a payload held for a client that is offline but still
// inside its reconnection grace period.
type QueuedMessage struct {
	ClientID string    `json:"clientId"`
	Payload  Message   `json:"payload"`
	QueuedAt time.Time `json:"queuedAt"`
}
