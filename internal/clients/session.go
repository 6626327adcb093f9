// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package clients

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/changewatch/internal/metrics"
	"github.com/tomtom215/changewatch/internal/models"
)

// State is a connection's lifecycle state.
type State string

const (
	StateConnecting    State = "connecting"
	StateAuthenticated State = "authenticated"
	StateAnonymous     State = "anonymous"
	StateActive        State = "active"
	StateDisconnected  State = "disconnected"
)

// Session is one client connection. The transport reads outbound frames
// from Outbound and stops when Done is closed.
type Session struct {
	ID             string
	Username       string
	Role           string
	Authenticated  bool
	Addr           string
	ConnectedAt    time.Time
	ReconnectCount int
	Resumed        bool

	// restored holds topics carried over from a detached record.
	restored []string

	send      chan models.Message
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter

	mu    sync.RWMutex
	state State
}

func newSession(id string, buffer int, msgRate float64, burst int) *Session {
	return &Session{
		ID:      id,
		send:    make(chan models.Message, buffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(msgRate), burst),
		state:   StateConnecting,
	}
}

// Outbound is the channel of frames waiting to be written.
func (s *Session) Outbound() <-chan models.Message {
	return s.send
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Offer queues msg for writing without blocking. It returns false when the
// buffer is full or the session is closed.
func (s *Session) Offer(msg models.Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// Send is Offer with the failure mapped to ErrDelivery.
func (s *Session) Send(msg models.Message) error {
	if s.Offer(msg) {
		return nil
	}
	if s.Closed() {
		return models.NewOpError(models.ErrDelivery, "send", s.ID, models.ErrSessionClosed)
	}
	return models.NewOpError(models.ErrDelivery, "send", s.ID, errBufferFull)
}

// SendWait blocks until msg is buffered, the session closes or ctx ends.
func (s *Session) SendWait(ctx context.Context, msg models.Message) error {
	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return models.NewOpError(models.ErrDelivery, "send", s.ID, models.ErrSessionClosed)
	case <-ctx.Done():
		return models.NewOpError(models.ErrDelivery, "send", s.ID, ctx.Err())
	}
}

// AllowMessage applies the inbound flood limit. Dropped messages are counted.
func (s *Session) AllowMessage() bool {
	if s.limiter.Allow() {
		return true
	}
	metrics.MessagesFlooded.Inc()
	return false
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close marks the session disconnected and releases the transport. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.setState(StateDisconnected)
		close(s.done)
	})
}

// Info summarizes the session without payload contents.
type Info struct {
	ClientID       string    `json:"clientId"`
	Username       string    `json:"username,omitempty"`
	Role           string    `json:"role"`
	Authenticated  bool      `json:"authenticated"`
	Addr           string    `json:"addr"`
	State          State     `json:"state"`
	ConnectedAt    time.Time `json:"connectedAt"`
	ReconnectCount int       `json:"reconnectCount"`
	Pending        int       `json:"pending"`
	Topics         []string  `json:"topics"`
}

// Info returns the session summary. Topics are filled in by Manager.List.
func (s *Session) Info() Info {
	return Info{
		ClientID:       s.ID,
		Username:       s.Username,
		Role:           s.Role,
		Authenticated:  s.Authenticated,
		Addr:           s.Addr,
		State:          s.State(),
		ConnectedAt:    s.ConnectedAt,
		ReconnectCount: s.ReconnectCount,
		Pending:        len(s.send),
	}
}
