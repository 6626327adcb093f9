// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package snapshot

import (
	"context"
	"time"

	"github.com/tomtom215/changewatch/internal/logging"
)

// CheckpointService periodically checkpoints a store.
// A final checkpoint runs when the context is cancelled.
type CheckpointService struct {
	store    *Store
	cp       Checkpointer
	interval time.Duration
}

// NewCheckpointService creates the periodic checkpoint loop.
func NewCheckpointService(store *Store, cp Checkpointer, interval time.Duration) *CheckpointService {
	return &CheckpointService{store: store, cp: cp, interval: interval}
}

// Serve implements suture.Service.
func (s *CheckpointService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			s.run(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *CheckpointService) run(ctx context.Context) {
	n, err := s.store.Checkpoint(ctx, s.cp)
	if err != nil {
		logging.Warn().Err(err).Int("written", n).Msg("Snapshot checkpoint failed")
		return
	}
	if n > 0 {
		logging.Debug().Int("written", n).Msg("Snapshot checkpoint written")
	}
}

// String implements fmt.Stringer for suture logs.
func (s *CheckpointService) String() string {
	return "snapshot-checkpoint"
}
