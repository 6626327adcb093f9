// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

//go:build !nats

package eventprocessor

import (
	"context"

	"github.com/tomtom215/changewatch/internal/models"
)

// Mirror is a placeholder in builds without -tags=nats.
type Mirror struct{}

// NewMirror always fails with ErrNATSUnavailable.
func NewMirror(MirrorConfig) (*Mirror, error) {
	return nil, ErrNATSUnavailable
}

// Start fails with ErrNATSUnavailable.
func (m *Mirror) Start(context.Context) error { return ErrNATSUnavailable }

// Shutdown is a no-op.
func (m *Mirror) Shutdown(context.Context) {}

// ClientURL returns "".
func (m *Mirror) ClientURL() string { return "" }

// PublishChange fails with ErrNATSUnavailable.
func (m *Mirror) PublishChange(context.Context, *models.ChangeRecord) error {
	return ErrNATSUnavailable
}

// PublishAlert fails with ErrNATSUnavailable.
func (m *Mirror) PublishAlert(context.Context, *models.Alert) error {
	return ErrNATSUnavailable
}
