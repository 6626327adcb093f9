// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package clients

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/tomtom215/changewatch/internal/auth"
	"github.com/tomtom215/changewatch/internal/authz"
	"github.com/tomtom215/changewatch/internal/config"
	"github.com/tomtom215/changewatch/internal/logging"
	"github.com/tomtom215/changewatch/internal/metrics"
	"github.com/tomtom215/changewatch/internal/models"
	"github.com/tomtom215/changewatch/internal/queue"
	"github.com/tomtom215/changewatch/internal/ratelimit"
	"github.com/tomtom215/changewatch/internal/registry"
)

var errBufferFull = errors.New("send buffer full")

// maxTopicLength bounds a single topic name.
const maxTopicLength = 256

// RateLimitError rejects a connection setup. It matches models.ErrRateLimitExceeded.
type RateLimitError struct {
	Addr       string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s [%s]: retry after %s", models.ErrRateLimitExceeded, e.Addr, e.RetryAfter.Round(time.Second))
}

// Is matches models.ErrRateLimitExceeded.
func (e *RateLimitError) Is(target error) bool {
	return target == models.ErrRateLimitExceeded
}

// TargetState tells the broadcaster what to do with a message for a client id.
type TargetState int

const (
	// TargetUnknown ids are neither connected nor within the grace period.
	TargetUnknown TargetState = iota
	// TargetActive sessions receive messages directly.
	TargetActive
	// TargetPending sessions are connected but still replaying their queue.
	TargetPending
	// TargetDetached ids disconnected within the grace period.
	TargetDetached
)

// detached is what survives a disconnect for the grace period.
type detached struct {
	username       string
	topics         []string
	disconnectedAt time.Time
	reconnectCount int
	// released is closed once the registry no longer holds the old
	// subscriptions. topics is final from then on.
	released chan struct{}
}

// ConnectRequest describes a connection attempt.
type ConnectRequest struct {
	Addr     string
	Token    string
	ResumeID string
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Limiter  *ratelimit.Limiter
	JWT      *auth.JWTManager // nil disables token verification
	Enforcer *authz.Enforcer
	Registry *registry.Registry
	Queue    queue.Store
	Clock    clock.Clock
}

// Manager tracks connection state, detached records and authorization.
type Manager struct {
	cfg      config.ConnectionsConfig
	limiter  *ratelimit.Limiter
	jwt      *auth.JWTManager
	enforcer *authz.Enforcer
	registry *registry.Registry
	queue    queue.Store
	clock    clock.Clock

	mu       sync.RWMutex
	sessions map[string]*Session
	detached map[string]*detached
}

// NewManager creates a connection manager.
func NewManager(cfg config.ConnectionsConfig, deps Deps) *Manager {
	clk := deps.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow, clk)
	}
	return &Manager{
		cfg:      cfg,
		limiter:  limiter,
		jwt:      deps.JWT,
		enforcer: deps.Enforcer,
		registry: deps.Registry,
		queue:    deps.Queue,
		clock:    clk,
		sessions: make(map[string]*Session),
		detached: make(map[string]*detached),
	}
}

// Connect runs the rate limit, token verification and resume steps and
// registers a pending session. The caller replays the queue and then calls
// Activate.
func (m *Manager) Connect(ctx context.Context, req ConnectRequest) (*Session, error) {
	if ok, retryAfter := m.limiter.Allow(req.Addr); !ok {
		metrics.RecordConnection("rate_limited")
		logging.Warn().Str("addr", req.Addr).Dur("retry_after", retryAfter).Msg("Connection rate limit exceeded")
		return nil, &RateLimitError{Addr: req.Addr, RetryAfter: retryAfter}
	}

	s := newSession(uuid.New().String(), m.cfg.SendBuffer, m.cfg.MessageRate, m.cfg.MessageBurst)
	s.Addr = req.Addr
	s.ConnectedAt = m.clock.Now()
	m.authenticate(s, req.Token)

	m.mu.Lock()
	rec := m.resumeLocked(s, req.ResumeID)
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()
	metrics.ConnectionsActive.Set(float64(count))

	if rec != nil {
		if err := m.awaitRelease(ctx, s, rec); err != nil {
			return nil, err
		}
	}

	topics := m.initialTopics(s)
	if len(topics) > 0 {
		if err := m.registry.Subscribe(ctx, s.ID, topics...); err != nil {
			m.drop(s)
			return nil, fmt.Errorf("restore subscriptions: %w", err)
		}
	}

	result := "accepted"
	if s.Resumed {
		result = "resumed"
		metrics.ConnectionsResumed.Inc()
	}
	metrics.RecordConnection(result)

	logging.Info().
		Str("client_id", s.ID).
		Str("addr", s.Addr).
		Str("role", s.Role).
		Bool("authenticated", s.Authenticated).
		Bool("resumed", s.Resumed).
		Int("topics", len(topics)).
		Msg("Client connected")
	return s, nil
}

// authenticate verifies the token. Failures degrade to anonymous.
func (m *Manager) authenticate(s *Session, token string) {
	s.Role = auth.RoleAnonymous
	s.setState(StateAnonymous)
	if token == "" {
		return
	}
	if m.jwt == nil {
		logging.Debug().Str("addr", s.Addr).Msg("Token presented but verification is disabled")
		return
	}

	claims, err := m.jwt.ValidateToken(token)
	if err != nil {
		metrics.AuthFailures.Inc()
		authErr := models.NewOpError(models.ErrAuth, "connect", s.Addr, err)
		logging.Warn().Err(authErr).Msg("Token rejected, continuing as anonymous")
		return
	}
	s.Username = claims.Username
	s.Role = claims.EffectiveRole()
	s.Authenticated = true
	s.setState(StateAuthenticated)
}

// resumeLocked adopts a detached record when the resume id is valid for s
// and returns it.
func (m *Manager) resumeLocked(s *Session, resumeID string) *detached {
	if resumeID == "" {
		return nil
	}
	rec, ok := m.detached[resumeID]
	if !ok {
		return nil
	}
	if rec.username != "" && rec.username != s.Username {
		logging.Warn().
			Str("client_id", resumeID).
			Str("addr", s.Addr).
			Msg("Resume rejected: identity does not match")
		return nil
	}
	delete(m.detached, resumeID)
	s.ID = resumeID
	s.Resumed = true
	s.ReconnectCount = rec.reconnectCount + 1
	return rec
}

// awaitRelease waits for a concurrent Disconnect of the resumed id to
// release the old subscriptions, then restores them. On ctx expiry the
// record goes back to the detached set.
func (m *Manager) awaitRelease(ctx context.Context, s *Session, rec *detached) error {
	select {
	case <-rec.released:
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.sessions, s.ID)
		m.detached[s.ID] = rec
		count := len(m.sessions)
		m.mu.Unlock()
		metrics.ConnectionsActive.Set(float64(count))
		s.Close()
		return ctx.Err()
	}
	m.mu.RLock()
	s.restored = rec.topics
	m.mu.RUnlock()
	return nil
}

// initialTopics returns restored topics the session may still join, plus
// its role topic when authenticated.
func (m *Manager) initialTopics(s *Session) []string {
	var topics []string
	for _, t := range s.restored {
		if m.allowed(s, t) {
			topics = append(topics, t)
		}
	}
	if s.Authenticated {
		rt := models.RoleTopic(s.Role)
		if !contains(topics, rt) {
			topics = append(topics, rt)
		}
	}
	return topics
}

// Activate marks a session live. Messages now go to it directly.
func (m *Manager) Activate(id string) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return models.ErrSessionClosed
	}
	s.setState(StateActive)
	return nil
}

// Disconnect closes the session, releases its topics and keeps a detached
// record for the grace period. The id is detached from the moment the
// session leaves the connected set. Broadcast frames still buffered for
// the writer go back to the front of the queue.
func (m *Manager) Disconnect(ctx context.Context, id string) {
	if _, ok := m.Session(id); !ok {
		return
	}
	current, err := m.registry.TopicsOf(ctx, id)
	if err != nil {
		logging.Warn().Err(err).Str("client_id", id).Msg("Failed to read subscriptions")
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, id)
	rec := &detached{
		username:       s.Username,
		topics:         current,
		disconnectedAt: m.clock.Now(),
		reconnectCount: s.ReconnectCount,
		released:       make(chan struct{}),
	}
	m.detached[id] = rec
	count := len(m.sessions)
	m.mu.Unlock()
	metrics.ConnectionsActive.Set(float64(count))
	s.Close()
	m.requeueUnsent(ctx, s)

	topics, err := m.registry.Release(ctx, id)
	if err != nil {
		logging.Warn().Err(err).Str("client_id", id).Msg("Failed to release subscriptions")
		topics = current
	}

	m.mu.Lock()
	rec.topics = topics
	m.mu.Unlock()
	close(rec.released)

	logging.Info().
		Str("client_id", id).
		Int("topics", len(topics)).
		Dur("connected_for", m.clock.Now().Sub(s.ConnectedAt)).
		Msg("Client disconnected")
}

// requeueUnsent moves broadcast frames left in a closed session's buffer
// back to the front of its queue.
func (m *Manager) requeueUnsent(ctx context.Context, s *Session) {
	now := m.clock.Now()
	var unsent []models.QueuedMessage
drain:
	for {
		select {
		case msg := <-s.send:
			if models.IsBroadcast(msg.Type) {
				unsent = append(unsent, models.QueuedMessage{ClientID: s.ID, Payload: msg, QueuedAt: now})
			}
		default:
			break drain
		}
	}
	if len(unsent) == 0 {
		return
	}
	if err := m.queue.Requeue(ctx, s.ID, unsent); err != nil {
		logging.Warn().Err(err).Str("client_id", s.ID).Int("messages", len(unsent)).Msg("Failed to requeue unsent messages")
		return
	}
	logging.Debug().Str("client_id", s.ID).Int("messages", len(unsent)).Msg("Requeued unsent messages")
}

// drop removes a session that never finished connecting.
func (m *Manager) drop(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	count := len(m.sessions)
	m.mu.Unlock()
	metrics.ConnectionsActive.Set(float64(count))
	s.Close()
}

// Subscribe joins the permitted topics and reports the denied ones.
func (m *Manager) Subscribe(ctx context.Context, id string, topics []string) (accepted, denied []string, err error) {
	s, ok := m.Session(id)
	if !ok {
		return nil, nil, models.ErrSessionClosed
	}
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if validTopic(t) && m.allowed(s, t) {
			accepted = append(accepted, t)
		} else {
			denied = append(denied, t)
		}
	}
	if len(accepted) > 0 {
		if err := m.registry.Subscribe(ctx, id, accepted...); err != nil {
			return nil, nil, err
		}
	}
	return accepted, denied, nil
}

// Unsubscribe leaves topics. Leaving a topic never joined is a no-op.
func (m *Manager) Unsubscribe(ctx context.Context, id string, topics []string) error {
	if _, ok := m.Session(id); !ok {
		return models.ErrSessionClosed
	}
	return m.registry.Unsubscribe(ctx, id, topics...)
}

// CanRequest reports whether the session may request dataType.
func (m *Manager) CanRequest(s *Session, dataType string) bool {
	if m.enforcer == nil {
		return true
	}
	return m.enforcer.CanRequest(s.Role, dataType)
}

func (m *Manager) allowed(s *Session, topic string) bool {
	if m.enforcer == nil {
		return true
	}
	return m.enforcer.CanSubscribe(s.Role, topic)
}

// Session returns the connected session with id.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Target classifies a client id for delivery.
func (m *Manager) Target(id string) (TargetState, *Session) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		if s.State() == StateActive {
			return TargetActive, s
		}
		return TargetPending, s
	}
	if _, ok := m.DetachedFor(id); ok {
		return TargetDetached, nil
	}
	return TargetUnknown, nil
}

// DetachedFor returns how long id has been disconnected, if it is still
// within the grace period.
func (m *Manager) DetachedFor(id string) (time.Duration, bool) {
	m.mu.RLock()
	rec, ok := m.detached[id]
	m.mu.RUnlock()
	if !ok {
		return 0, false
	}
	since := m.clock.Now().Sub(rec.disconnectedAt)
	if since > m.cfg.GracePeriod {
		return since, false
	}
	return since, true
}

// DetachedMembers returns the detached ids within the grace period whose
// retained topics intersect topics, sorted.
func (m *Manager) DetachedMembers(topics []string) []string {
	if len(topics) == 0 {
		return nil
	}
	now := m.clock.Now()

	m.mu.RLock()
	var ids []string
	for id, rec := range m.detached {
		if now.Sub(rec.disconnectedAt) > m.cfg.GracePeriod {
			continue
		}
		for _, t := range rec.topics {
			if contains(topics, t) {
				ids = append(ids, id)
				break
			}
		}
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// List returns connected sessions ordered by connect time, with topics.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].ConnectedAt.Equal(sessions[j].ConnectedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		info := s.Info()
		topics, err := m.registry.TopicsOf(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		info.Topics = topics
		out = append(out, info)
	}
	return out, nil
}

// Count returns the number of connected sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// DetachedCount returns the number of detached records.
func (m *Manager) DetachedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.detached)
}

// SweepDetached drops detached records past the grace period and their
// queues, and prunes idle rate-limit and queue state. Returns the number of
// records dropped.
func (m *Manager) SweepDetached(ctx context.Context) int {
	now := m.clock.Now()

	m.mu.Lock()
	var expired []string
	for id, rec := range m.detached {
		if now.Sub(rec.disconnectedAt) > m.cfg.GracePeriod {
			expired = append(expired, id)
			delete(m.detached, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if err := m.queue.Discard(ctx, id); err != nil {
			logging.Warn().Err(err).Str("client_id", id).Msg("Failed to discard queue")
		}
	}
	if n, err := m.queue.Sweep(ctx); err != nil {
		logging.Warn().Err(err).Msg("Queue sweep failed")
	} else if n > 0 {
		metrics.QueueEvictions.Add(float64(n))
	}
	m.limiter.Sweep()

	if len(expired) > 0 {
		logging.Debug().Int("expired", len(expired)).Msg("Swept detached clients")
	}
	return len(expired)
}

// Serve implements suture.Service, sweeping on the configured interval.
func (m *Manager) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(m.cfg.SweepInterval):
			m.SweepDetached(ctx)
		}
	}
}

// String implements fmt.Stringer for suture logs.
func (m *Manager) String() string {
	return "connection-sweeper"
}

// CloseAll closes every connected session.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	for _, s := range sessions {
		s.Close()
	}
}

func validTopic(t string) bool {
	return t != "" && len(t) <= maxTopicLength && !strings.ContainsAny(t, " \t\r\n")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
