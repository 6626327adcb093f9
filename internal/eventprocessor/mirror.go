// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

//go:build nats

package eventprocessor

import (
	"context"
	"fmt"
	"sync"

	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/changewatch/internal/logging"
	"github.com/tomtom215/changewatch/internal/models"
)

// Mirror publishes change records and alerts to NATS. It implements the
// pipeline mirror stage and the services.Component lifecycle.
type Mirror struct {
	cfg MirrorConfig

	mu     sync.RWMutex
	server *EmbeddedServer
	nc     *natsgo.Conn
	pub    *publisher
}

// NewMirror returns an unstarted mirror.
func NewMirror(cfg MirrorConfig) (*Mirror, error) {
	if cfg.SubjectPrefix == "" || cfg.StreamName == "" {
		return nil, fmt.Errorf("mirror: subject prefix and stream name are required")
	}
	return &Mirror{cfg: cfg}, nil
}

// Start brings up the embedded server when configured, provisions the
// stream and opens the publisher.
func (m *Mirror) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pub != nil {
		return nil
	}

	url := m.cfg.URL
	if m.cfg.EmbeddedServer {
		srv, err := NewEmbeddedServer(m.cfg)
		if err != nil {
			return err
		}
		m.server = srv
		url = srv.ClientURL()
	}

	nc, err := natsgo.Connect(url, natsgo.Name("changewatch-provisioner"), natsgo.Timeout(m.cfg.ConnectTimeout))
	if err != nil {
		m.stopLocked(ctx)
		return fmt.Errorf("connect %s: %w", url, err)
	}
	m.nc = nc

	provisionCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if _, err := ensureStream(provisionCtx, nc, m.cfg); err != nil {
		m.stopLocked(ctx)
		return err
	}

	pub, err := newPublisher(url, logging.NewWatermillAdapter())
	if err != nil {
		m.stopLocked(ctx)
		return err
	}
	m.pub = pub

	logging.Info().
		Str("url", url).
		Str("stream", m.cfg.StreamName).
		Bool("embedded", m.cfg.EmbeddedServer).
		Msg("NATS mirror started")
	return nil
}

// Shutdown closes the publisher, the provisioning connection and the
// embedded server.
func (m *Mirror) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(ctx)
	logging.Info().Msg("NATS mirror stopped")
}

func (m *Mirror) stopLocked(ctx context.Context) {
	if m.pub != nil {
		if err := m.pub.close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close NATS publisher")
		}
		m.pub = nil
	}
	if m.nc != nil {
		m.nc.Close()
		m.nc = nil
	}
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("Embedded NATS server shutdown incomplete")
		}
		m.server = nil
	}
}

// ClientURL returns the URL the mirror publishes to.
func (m *Mirror) ClientURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.server != nil {
		return m.server.ClientURL()
	}
	return m.cfg.URL
}

// PublishChange mirrors rec on <prefix>.changes.<category>.
func (m *Mirror) PublishChange(_ context.Context, rec *models.ChangeRecord) error {
	payload, err := EncodeChange(rec)
	if err != nil {
		return err
	}
	return m.publish(m.cfg.ChangeSubject(rec.Category), rec.ID, payload)
}

// PublishAlert mirrors a on <prefix>.alerts.<severity>.
func (m *Mirror) PublishAlert(_ context.Context, a *models.Alert) error {
	payload, err := EncodeAlert(a)
	if err != nil {
		return err
	}
	return m.publish(m.cfg.AlertSubject(a.Severity), a.ID, payload)
}

func (m *Mirror) publish(subject, id string, payload []byte) error {
	m.mu.RLock()
	pub := m.pub
	m.mu.RUnlock()
	if pub == nil {
		return ErrMirrorNotReady
	}
	return pub.publish(subject, id, payload)
}
