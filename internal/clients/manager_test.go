// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package clients

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/changewatch/internal/auth"
	"github.com/tomtom215/changewatch/internal/authz"
	"github.com/tomtom215/changewatch/internal/config"
	"github.com/tomtom215/changewatch/internal/metrics"
	"github.com/tomtom215/changewatch/internal/models"
	"github.com/tomtom215/changewatch/internal/queue"
	"github.com/tomtom215/changewatch/internal/registry"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

type fixture struct {
	mgr   *Manager
	reg   *registry.Registry
	queue *queue.MemoryStore
	clock *testclock.Clock
	jwt   *auth.JWTManager
}

func testConfig() config.ConnectionsConfig {
	return config.ConnectionsConfig{
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		GracePeriod:       5 * time.Minute,
		SendBuffer:        4,
		MessageRate:       10,
		MessageBurst:      2,
		SweepInterval:     time.Minute,
	}
}

func newFixture(t *testing.T, cfg config.ConnectionsConfig) *fixture {
	t.Helper()

	reg := registry.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = reg.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	enforcer, err := authz.NewEnforcer(0)
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	t.Cleanup(enforcer.Close)

	jwtManager, err := auth.NewJWTManager(&config.SecurityConfig{JWTSecret: testSecret, TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}

	clk := testclock.NewClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	q := queue.NewMemoryStore(queue.DefaultOptions(), clk)
	mgr := NewManager(cfg, Deps{
		JWT:      jwtManager,
		Enforcer: enforcer,
		Registry: reg,
		Queue:    q,
		Clock:    clk,
	})
	return &fixture{mgr: mgr, reg: reg, queue: q, clock: clk, jwt: jwtManager}
}

func (f *fixture) token(t *testing.T, username, role string) string {
	t.Helper()
	tok, err := f.jwt.GenerateToken(username, role)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return tok
}

func TestConnect_AnonymousWithoutToken(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	s, err := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if s.Authenticated {
		t.Error("session is authenticated without a token")
	}
	if s.Role != auth.RoleAnonymous {
		t.Errorf("Role = %q, want %q", s.Role, auth.RoleAnonymous)
	}
	if s.State() != StateAnonymous {
		t.Errorf("State() = %q, want %q", s.State(), StateAnonymous)
	}
	if st, _ := f.mgr.Target(s.ID); st != TargetPending {
		t.Errorf("Target() = %v before Activate, want TargetPending", st)
	}

	if err := f.mgr.Activate(s.ID); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if st, got := f.mgr.Target(s.ID); st != TargetActive || got != s {
		t.Errorf("Target() = %v, want TargetActive", st)
	}
	if f.mgr.Count() != 1 {
		t.Errorf("Count() = %d, want 1", f.mgr.Count())
	}
}

func TestConnect_ValidTokenJoinsRoleTopic(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	s, err := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1", Token: f.token(t, "alice", auth.RoleOperator)})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !s.Authenticated || s.Username != "alice" || s.Role != auth.RoleOperator {
		t.Errorf("session = {auth:%v user:%q role:%q}, want authenticated alice/operator", s.Authenticated, s.Username, s.Role)
	}

	topics, err := f.reg.TopicsOf(ctx, s.ID)
	if err != nil {
		t.Fatalf("TopicsOf() error = %v", err)
	}
	if !reflect.DeepEqual(topics, []string{"role:operator"}) {
		t.Errorf("TopicsOf() = %v, want [role:operator]", topics)
	}
}

func TestConnect_BadTokenDegradesToAnonymous(t *testing.T) {
	f := newFixture(t, testConfig())
	before := testutil.ToFloat64(metrics.AuthFailures)

	s, err := f.mgr.Connect(context.Background(), ConnectRequest{Addr: "10.0.0.1", Token: "not-a-jwt"})
	if err != nil {
		t.Fatalf("Connect() error = %v, want degraded connection", err)
	}
	if s.Authenticated || s.Role != auth.RoleAnonymous {
		t.Errorf("session = {auth:%v role:%q}, want anonymous", s.Authenticated, s.Role)
	}
	if got := testutil.ToFloat64(metrics.AuthFailures) - before; got != 1 {
		t.Errorf("AuthFailures delta = %v, want 1", got)
	}
}

func TestConnect_NoVerifierTreatsEveryoneAsAnonymous(t *testing.T) {
	f := newFixture(t, testConfig())
	f.mgr.jwt = nil

	s, err := f.mgr.Connect(context.Background(), ConnectRequest{Addr: "10.0.0.1", Token: f.token(t, "alice", auth.RoleAdmin)})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if s.Authenticated {
		t.Error("session authenticated with verification disabled")
	}
}

func TestConnect_RateLimitedAddress(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRequests = 3
	f := newFixture(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1"}); err != nil {
			t.Fatalf("attempt %d: Connect() error = %v", i+1, err)
		}
	}

	_, err := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1"})
	if !errors.Is(err, models.ErrRateLimitExceeded) {
		t.Fatalf("4th attempt error = %v, want ErrRateLimitExceeded", err)
	}
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter <= 0 {
		t.Errorf("error = %#v, want RateLimitError with RetryAfter", err)
	}
	if models.ErrorCode(err) != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("ErrorCode() = %q, want RATE_LIMIT_EXCEEDED", models.ErrorCode(err))
	}

	if _, err := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.2"}); err != nil {
		t.Errorf("other address rejected: %v", err)
	}

	f.clock.Advance(time.Minute + time.Second)
	if _, err := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1"}); err != nil {
		t.Errorf("after window: Connect() error = %v", err)
	}
}

func TestDisconnect_ResumeRestoresTopics(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	s, _ := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1"})
	_ = f.mgr.Activate(s.ID)
	if _, denied, err := f.mgr.Subscribe(ctx, s.ID, []string{"inventory:P1", "category:orders"}); err != nil || len(denied) != 0 {
		t.Fatalf("Subscribe() denied=%v err=%v", denied, err)
	}

	f.mgr.Disconnect(ctx, s.ID)

	if !s.Closed() {
		t.Error("session not closed after Disconnect")
	}
	members, _ := f.reg.MembersOf(ctx, "inventory:P1")
	if len(members) != 0 {
		t.Errorf("MembersOf() after disconnect = %v, want none", members)
	}
	if st, _ := f.mgr.Target(s.ID); st != TargetDetached {
		t.Errorf("Target() = %v, want TargetDetached", st)
	}

	f.clock.Advance(time.Minute)
	resumed, err := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1", ResumeID: s.ID})
	if err != nil {
		t.Fatalf("Connect(resume) error = %v", err)
	}
	if resumed.ID != s.ID || !resumed.Resumed || resumed.ReconnectCount != 1 {
		t.Errorf("resumed = {id:%s resumed:%v count:%d}, want same id, resumed, count 1", resumed.ID, resumed.Resumed, resumed.ReconnectCount)
	}
	topics, _ := f.reg.TopicsOf(ctx, s.ID)
	if !reflect.DeepEqual(topics, []string{"category:orders", "inventory:P1"}) {
		t.Errorf("restored topics = %v", topics)
	}
	if f.mgr.DetachedCount() != 0 {
		t.Errorf("DetachedCount() = %d, want 0", f.mgr.DetachedCount())
	}
}

func TestDisconnect_DetachedWithoutGap(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		s, _ := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1"})
		_ = f.mgr.Activate(s.ID)
		_, _, _ = f.mgr.Subscribe(ctx, s.ID, []string{"inventory:P1"})

		seen := make(chan TargetState, 1)
		go func() {
			for {
				if st, _ := f.mgr.Target(s.ID); st != TargetActive {
					seen <- st
					return
				}
			}
		}()
		f.mgr.Disconnect(ctx, s.ID)

		if st := <-seen; st != TargetDetached {
			t.Fatalf("Target() after session left = %v, want TargetDetached", st)
		}
	}
}

func TestDisconnect_RequeuesUnsentBroadcasts(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	s, _ := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1"})
	_ = f.mgr.Activate(s.ID)
	_ = f.queue.Enqueue(ctx, s.ID, models.Message{Type: models.MessageTypeChange, Data: "queued"})

	s.Offer(models.Message{Type: models.MessageTypeChange, Data: "first"})
	s.Offer(models.Message{Type: models.MessageTypePong})
	s.Offer(models.Message{Type: models.MessageTypeAlert, Data: "second"})

	f.mgr.Disconnect(ctx, s.ID)

	entries, err := f.queue.Drain(ctx, s.ID)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	var got []interface{}
	for _, e := range entries {
		got = append(got, e.Payload.Data)
	}
	if want := []interface{}{"first", "second", "queued"}; !reflect.DeepEqual(got, want) {
		t.Errorf("queued payloads = %v, want %v", got, want)
	}
}

func TestResume_WaitsForRelease(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	rec := &detached{
		topics:         []string{"inventory:P1"},
		disconnectedAt: f.clock.Now(),
		released:       make(chan struct{}),
	}
	f.mgr.mu.Lock()
	f.mgr.detached["c-1"] = rec
	f.mgr.mu.Unlock()

	type result struct {
		s   *Session
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1", ResumeID: "c-1"})
		done <- result{s, err}
	}()

	select {
	case <-done:
		t.Fatal("Connect(resume) returned before the old subscriptions were released")
	case <-time.After(50 * time.Millisecond):
	}

	f.mgr.mu.Lock()
	rec.topics = []string{"category:orders", "inventory:P1"}
	f.mgr.mu.Unlock()
	close(rec.released)

	r := <-done
	if r.err != nil {
		t.Fatalf("Connect(resume) error = %v", r.err)
	}
	topics, _ := f.reg.TopicsOf(ctx, r.s.ID)
	if !reflect.DeepEqual(topics, []string{"category:orders", "inventory:P1"}) {
		t.Errorf("restored topics = %v", topics)
	}
}

func TestResume_CancelledWhileReleasing(t *testing.T) {
	f := newFixture(t, testConfig())

	rec := &detached{
		topics:         []string{"inventory:P1"},
		disconnectedAt: f.clock.Now(),
		released:       make(chan struct{}),
	}
	f.mgr.mu.Lock()
	f.mgr.detached["c-1"] = rec
	f.mgr.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1", ResumeID: "c-1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Connect(resume) error = %v, want context.Canceled", err)
	}
	if f.mgr.Count() != 0 {
		t.Errorf("Count() = %d, want 0", f.mgr.Count())
	}
	if st, _ := f.mgr.Target("c-1"); st != TargetDetached {
		t.Errorf("Target() = %v, want TargetDetached", st)
	}
}

func TestResume_RequiresSameUsername(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	s, _ := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1", Token: f.token(t, "alice", auth.RoleViewer)})
	f.mgr.Disconnect(ctx, s.ID)

	other, err := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1", Token: f.token(t, "bob", auth.RoleViewer), ResumeID: s.ID})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if other.ID == s.ID || other.Resumed {
		t.Error("different user resumed another user's session")
	}

	anon, _ := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1", ResumeID: s.ID})
	if anon.Resumed {
		t.Error("anonymous connection resumed an authenticated session")
	}

	same, _ := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1", Token: f.token(t, "alice", auth.RoleViewer), ResumeID: s.ID})
	if !same.Resumed || same.ID != s.ID {
		t.Error("same user could not resume")
	}
}

func TestResume_AfterGracePeriodStartsFresh(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	s, _ := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1"})
	f.mgr.Disconnect(ctx, s.ID)
	_ = f.queue.Enqueue(ctx, s.ID, models.Message{Type: models.MessageTypeChange})

	f.clock.Advance(6 * time.Minute)
	if st, _ := f.mgr.Target(s.ID); st != TargetUnknown {
		t.Errorf("Target() past grace = %v, want TargetUnknown", st)
	}
	if n := f.mgr.SweepDetached(ctx); n != 1 {
		t.Errorf("SweepDetached() = %d, want 1", n)
	}
	if n, _ := f.queue.Len(ctx, s.ID); n != 0 {
		t.Errorf("queue length after sweep = %d, want 0", n)
	}

	fresh, _ := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1", ResumeID: s.ID})
	if fresh.Resumed || fresh.ID == s.ID {
		t.Error("resumed a swept session")
	}
}

func TestSubscribe_DeniesPrivilegedTopicsToAnonymous(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	s, _ := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1"})
	accepted, denied, err := f.mgr.Subscribe(ctx, s.ID, []string{"inventory:P1", models.TopicAlerts, "role:admin", ""})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !reflect.DeepEqual(accepted, []string{"inventory:P1"}) {
		t.Errorf("accepted = %v, want [inventory:P1]", accepted)
	}
	if len(denied) != 3 {
		t.Errorf("denied = %v, want 3 topics", denied)
	}

	admin, _ := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.2", Token: f.token(t, "root", auth.RoleAdmin)})
	_, denied, _ = f.mgr.Subscribe(ctx, admin.ID, []string{models.TopicAlerts, "role:admin"})
	if len(denied) != 0 {
		t.Errorf("admin denied = %v, want none", denied)
	}
}

func TestSubscribe_UnknownSession(t *testing.T) {
	f := newFixture(t, testConfig())
	if _, _, err := f.mgr.Subscribe(context.Background(), "missing", []string{"system"}); !errors.Is(err, models.ErrSessionClosed) {
		t.Errorf("Subscribe() error = %v, want ErrSessionClosed", err)
	}
}

func TestList_OrderedWithTopics(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	first, _ := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1"})
	f.clock.Advance(time.Second)
	second, _ := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.2"})
	_, _, _ = f.mgr.Subscribe(ctx, second.ID, []string{models.TopicSystem})

	list, err := f.mgr.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ClientID != first.ID || list[1].ClientID != second.ID {
		t.Fatalf("List() order wrong: %+v", list)
	}
	if !reflect.DeepEqual(list[1].Topics, []string{models.TopicSystem}) {
		t.Errorf("List()[1].Topics = %v", list[1].Topics)
	}
}

func TestSession_OfferAndFlood(t *testing.T) {
	s := newSession("c1", 2, 1, 2)

	if !s.Offer(models.Message{Type: "a"}) || !s.Offer(models.Message{Type: "b"}) {
		t.Fatal("Offer() rejected within buffer")
	}
	err := s.Send(models.Message{Type: "c"})
	if !errors.Is(err, models.ErrDelivery) {
		t.Errorf("Send() on full buffer = %v, want ErrDelivery", err)
	}

	before := testutil.ToFloat64(metrics.MessagesFlooded)
	allowed := 0
	for i := 0; i < 5; i++ {
		if s.AllowMessage() {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("AllowMessage() allowed %d, want burst of 2", allowed)
	}
	if got := testutil.ToFloat64(metrics.MessagesFlooded) - before; got != 3 {
		t.Errorf("MessagesFlooded delta = %v, want 3", got)
	}

	s.Close()
	s.Close()
	if s.State() != StateDisconnected {
		t.Errorf("State() = %q after Close", s.State())
	}
	if err := s.Send(models.Message{Type: "d"}); !errors.Is(err, models.ErrSessionClosed) {
		t.Errorf("Send() after Close = %v, want ErrSessionClosed", err)
	}
}

func TestDetachedMembers(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	a, _ := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.1"})
	b, _ := f.mgr.Connect(ctx, ConnectRequest{Addr: "10.0.0.2"})
	_, _, _ = f.mgr.Subscribe(ctx, a.ID, []string{"inventory:P1"})
	_, _, _ = f.mgr.Subscribe(ctx, b.ID, []string{"category:orders"})
	f.mgr.Disconnect(ctx, a.ID)
	f.mgr.Disconnect(ctx, b.ID)

	got := f.mgr.DetachedMembers([]string{"inventory:P1", "category:inventory"})
	if !reflect.DeepEqual(got, []string{a.ID}) {
		t.Errorf("DetachedMembers() = %v, want [%s]", got, a.ID)
	}

	f.clock.Advance(6 * time.Minute)
	if got := f.mgr.DetachedMembers([]string{"inventory:P1"}); len(got) != 0 {
		t.Errorf("DetachedMembers() past grace = %v, want none", got)
	}
}
