// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package queue

import (
	"context"
	"time"

	"github.com/tomtom215/changewatch/internal/models"
)

// Store is a per-client bounded message queue.
type Store interface {
	// Enqueue appends msg to the client's queue, evicting the oldest entry
	// when the queue is full.
	Enqueue(ctx context.Context, clientID string, msg models.Message) error
	// Drain removes and returns the client's unexpired entries, oldest first.
	Drain(ctx context.Context, clientID string) ([]models.QueuedMessage, error)
	// Requeue puts entries back at the front of the client's queue, ahead
	// of anything enqueued since, keeping their original QueuedAt. The
	// oldest entries are evicted when the result exceeds MaxSize.
	Requeue(ctx context.Context, clientID string, entries []models.QueuedMessage) error
	// Discard drops the client's queue.
	Discard(ctx context.Context, clientID string) error
	Len(ctx context.Context, clientID string) (int, error)
	// Sweep removes expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// Options bound every queue.
type Options struct {
	MaxSize   int
	Retention time.Duration
}

// DefaultOptions match the documented defaults.
func DefaultOptions() Options {
	return Options{MaxSize: 1000, Retention: 5 * time.Minute}
}

// unexpired keeps entries queued at or after cutoff, in order. Requeued
// entries may carry older timestamps than their successors.
func unexpired(entries []models.QueuedMessage, cutoff time.Time) []models.QueuedMessage {
	kept := entries[:0:0]
	for _, e := range entries {
		if !e.QueuedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}
