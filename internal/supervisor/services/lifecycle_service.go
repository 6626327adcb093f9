// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package services

import (
	"context"
	"fmt"
	"time"
)

// Component has a Start/Shutdown lifecycle.
type Component interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context)
}

// LifecycleService adapts a Component to suture.Service: Start, wait for
// cancellation, then Shutdown with a fresh deadline.
type LifecycleService struct {
	component       Component
	shutdownTimeout time.Duration
	name            string
}

// NewLifecycleService wraps c under name. A non-positive shutdownTimeout
// means 10s.
func NewLifecycleService(name string, c Component, shutdownTimeout time.Duration) *LifecycleService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &LifecycleService{
		component:       c,
		shutdownTimeout: shutdownTimeout,
		name:            name,
	}
}

// Serve implements suture.Service. A Start failure is returned so the
// supervisor restarts the service with backoff.
func (s *LifecycleService) Serve(ctx context.Context) error {
	if err := s.component.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.component.Shutdown(shutdownCtx)

	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *LifecycleService) String() string {
	return s.name
}
