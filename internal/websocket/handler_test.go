// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/changewatch/internal/authz"
	"github.com/tomtom215/changewatch/internal/broadcast"
	"github.com/tomtom215/changewatch/internal/clients"
	"github.com/tomtom215/changewatch/internal/config"
	"github.com/tomtom215/changewatch/internal/eventlog"
	"github.com/tomtom215/changewatch/internal/models"
	"github.com/tomtom215/changewatch/internal/queue"
	"github.com/tomtom215/changewatch/internal/registry"
	"github.com/tomtom215/changewatch/internal/snapshot"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type staticHealth struct{}

func (staticHealth) Metrics() models.HealthMetrics {
	return models.HealthMetrics{Status: models.StatusHealthy, QueriesExecuted: 7}
}

type server struct {
	srv         *httptest.Server
	mgr         *clients.Manager
	broadcaster *broadcast.Broadcaster
	snapshot    *snapshot.Store
	log         *eventlog.MemoryStore
}

func newServer(t *testing.T, rateLimit int, opts ...func(*Options)) *server {
	t.Helper()

	reg := registry.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = reg.Serve(ctx)
		close(done)
	}()

	enforcer, err := authz.NewEnforcer(0)
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}

	q := queue.NewMemoryStore(queue.DefaultOptions(), nil)
	mgr := clients.NewManager(config.ConnectionsConfig{
		RateLimitRequests: rateLimit,
		RateLimitWindow:   time.Minute,
		GracePeriod:       5 * time.Minute,
		SendBuffer:        16,
		MessageRate:       100,
		MessageBurst:      100,
		SweepInterval:     time.Minute,
	}, clients.Deps{Enforcer: enforcer, Registry: reg, Queue: q})
	b := broadcast.New(mgr, reg, q, time.Second)

	snap := snapshot.New()
	log := eventlog.NewMemoryStore()
	o := Options{
		Manager:  mgr,
		Replayer: b,
		Queue:    q,
		Snapshot: snap,
		EventLog: log,
		Health:   staticHealth{},
	}
	for _, fn := range opts {
		fn(&o)
	}
	h := NewHandler(o)

	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		mgr.CloseAll()
		srv.Close()
		cancel()
		<-done
		enforcer.Close()
	})
	return &server{srv: srv, mgr: mgr, broadcaster: b, snapshot: snap, log: log}
}

func (s *server) url(query string) string {
	u := "ws" + strings.TrimPrefix(s.srv.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

func (s *server) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(s.url(query), nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() error = %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", data, err)
	}
	return f
}

func expectFrame(t *testing.T, conn *websocket.Conn, wantType string, into interface{}) {
	t.Helper()
	f := readFrame(t, conn)
	if f.Type != wantType {
		t.Fatalf("frame type = %q (%s), want %q", f.Type, f.Data, wantType)
	}
	if into != nil {
		if err := json.Unmarshal(f.Data, into); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", f.Data, err)
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	if err := conn.WriteJSON(models.Message{Type: msgType, Data: data}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnect_SendsConnectedFrame(t *testing.T) {
	s := newServer(t, 100)
	conn := s.dial(t, "")

	var connected models.ConnectedPayload
	expectFrame(t, conn, models.MessageTypeConnected, &connected)
	if connected.ClientID == "" {
		t.Error("connected frame has no client id")
	}
	if connected.Authenticated || connected.Resumed {
		t.Errorf("connected = %+v, want anonymous fresh session", connected)
	}
	waitFor(t, "active session", func() bool {
		state, _ := s.mgr.Target(connected.ClientID)
		return state == clients.TargetActive
	})
}

func TestSubscribe_ReceivesChanges(t *testing.T) {
	s := newServer(t, 100)
	conn := s.dial(t, "")
	expectFrame(t, conn, models.MessageTypeConnected, nil)

	send(t, conn, models.MessageTypeSubscribe, models.TopicsPayload{Topics: []string{"inventory:sku-1"}})
	var ack models.SubscriptionAck
	expectFrame(t, conn, models.MessageTypeSubscribed, &ack)
	if len(ack.Topics) != 1 || ack.Topics[0] != "inventory:sku-1" {
		t.Fatalf("ack = %+v", ack)
	}

	res := s.broadcaster.PublishChange(context.Background(), &models.ChangeRecord{
		ID:         "c1",
		Category:   models.CategoryInventory,
		EntityID:   "sku-1",
		ChangeType: models.ChangeDecrease,
	})
	if res.Delivered != 1 {
		t.Fatalf("Delivered = %d, want 1", res.Delivered)
	}
	var ev models.ChangeEvent
	expectFrame(t, conn, models.MessageTypeChange, &ev)
	if ev.Category != models.CategoryInventory || ev.Payload == nil || ev.Payload.ID != "c1" {
		t.Errorf("change event = %+v", ev)
	}

	send(t, conn, models.MessageTypeUnsubscribe, models.TopicsPayload{Topics: []string{"inventory:sku-1"}})
	expectFrame(t, conn, models.MessageTypeUnsubscribed, nil)
	res = s.broadcaster.PublishChange(context.Background(), &models.ChangeRecord{
		ID: "c2", Category: models.CategoryInventory, EntityID: "sku-1",
	})
	if res.Recipients != 0 {
		t.Errorf("Recipients after unsubscribe = %d, want 0", res.Recipients)
	}
}

func TestSubscribe_DeniedTopicScopedError(t *testing.T) {
	s := newServer(t, 100)
	conn := s.dial(t, "")
	expectFrame(t, conn, models.MessageTypeConnected, nil)

	send(t, conn, models.MessageTypeSubscribe, models.TopicsPayload{Topics: []string{"alerts", "system"}})
	var ack models.SubscriptionAck
	expectFrame(t, conn, models.MessageTypeSubscribed, &ack)
	if len(ack.Topics) != 1 || ack.Topics[0] != "system" {
		t.Errorf("accepted = %v, want [system]", ack.Topics)
	}
	if len(ack.Denied) != 1 || ack.Denied[0] != "alerts" {
		t.Errorf("denied = %v, want [alerts]", ack.Denied)
	}
	var perr models.ErrorPayload
	expectFrame(t, conn, "subscribe:error", &perr)
	if perr.Code != "FORBIDDEN" {
		t.Errorf("code = %q, want FORBIDDEN", perr.Code)
	}

	// The connection stays usable.
	send(t, conn, models.MessageTypePing, nil)
	expectFrame(t, conn, models.MessageTypePong, nil)
}

func TestSubscribe_EmptyTopics(t *testing.T) {
	s := newServer(t, 100)
	conn := s.dial(t, "")
	expectFrame(t, conn, models.MessageTypeConnected, nil)

	send(t, conn, models.MessageTypeSubscribe, models.TopicsPayload{})
	var perr models.ErrorPayload
	expectFrame(t, conn, "subscribe:error", &perr)
	if perr.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %q, want VALIDATION_ERROR", perr.Code)
	}
}

func TestRequest(t *testing.T) {
	s := newServer(t, 100)
	s.snapshot.Partition(models.CategoryInventory).Put("sku-1", models.Fields{"quantity": 4.0}, time.Now())
	conn := s.dial(t, "")
	expectFrame(t, conn, models.MessageTypeConnected, nil)

	tests := []struct {
		name     string
		req      models.RequestPayload
		wantType string
		wantCode string
	}{
		{
			name:     "snapshot",
			req:      models.RequestPayload{RequestID: "r1", DataType: "snapshot", Parameters: map[string]interface{}{"category": "inventory"}},
			wantType: models.MessageTypeResponse,
		},
		{
			name:     "snapshot entity missing",
			req:      models.RequestPayload{RequestID: "r2", DataType: "snapshot", Parameters: map[string]interface{}{"category": "inventory", "entityId": "nope"}},
			wantType: "request:error",
			wantCode: "NOT_FOUND",
		},
		{
			name:     "changes without category",
			req:      models.RequestPayload{RequestID: "r3", DataType: "changes"},
			wantType: "request:error",
			wantCode: "VALIDATION_ERROR",
		},
		{
			name:     "metrics",
			req:      models.RequestPayload{RequestID: "r4", DataType: "metrics"},
			wantType: models.MessageTypeResponse,
		},
		{
			name:     "alerts forbidden for anonymous",
			req:      models.RequestPayload{RequestID: "r5", DataType: "alerts"},
			wantType: "request:error",
			wantCode: "FORBIDDEN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, models.MessageTypeRequest, tt.req)
			f := readFrame(t, conn)
			if f.Type != tt.wantType {
				t.Fatalf("type = %q (%s), want %q", f.Type, f.Data, tt.wantType)
			}
			if tt.wantCode != "" {
				var perr models.ErrorPayload
				if err := json.Unmarshal(f.Data, &perr); err != nil {
					t.Fatalf("Unmarshal() error = %v", err)
				}
				if perr.Code != tt.wantCode || perr.RequestID != tt.req.RequestID {
					t.Errorf("error = %+v, want code %s for %s", perr, tt.wantCode, tt.req.RequestID)
				}
				return
			}
			var resp struct {
				RequestID string          `json:"requestId"`
				Data      json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(f.Data, &resp); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if resp.RequestID != tt.req.RequestID || len(resp.Data) == 0 {
				t.Errorf("response = %s", f.Data)
			}
		})
	}
}

func TestUnknownAndMalformedFrames(t *testing.T) {
	s := newServer(t, 100)
	conn := s.dial(t, "")
	expectFrame(t, conn, models.MessageTypeConnected, nil)

	send(t, conn, "teleport", nil)
	expectFrame(t, conn, "message:error", nil)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	var perr models.ErrorPayload
	expectFrame(t, conn, "message:error", &perr)
	if perr.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %q, want VALIDATION_ERROR", perr.Code)
	}
}

func TestConnect_RateLimitedBeforeUpgrade(t *testing.T) {
	s := newServer(t, 1)
	conn := s.dial(t, "")
	expectFrame(t, conn, models.MessageTypeConnected, nil)

	_, resp, err := websocket.DefaultDialer.Dial(s.url(""), nil)
	if err == nil {
		t.Fatal("second Dial() succeeded, want rate limit")
	}
	if resp == nil {
		t.Fatalf("no HTTP response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

// dialFrom dials with a forged X-Forwarded-For and reports the status.
func (s *server) dialFrom(t *testing.T, forwarded string) int {
	t.Helper()
	header := http.Header{}
	header.Set("X-Forwarded-For", forwarded)
	conn, resp, err := websocket.DefaultDialer.Dial(s.url(""), header)
	if err == nil {
		t.Cleanup(func() { _ = conn.Close() })
		return resp.StatusCode
	}
	if resp == nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestConnect_RateLimitIgnoresForwardedHeaders(t *testing.T) {
	s := newServer(t, 1)

	accepted := 0
	for i := 1; i <= 5; i++ {
		if s.dialFrom(t, fmt.Sprintf("10.0.0.%d", i)) == http.StatusSwitchingProtocols {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("accepted %d connections from one peer, want 1", accepted)
	}
}

func TestConnect_TrustedProxyKeysByForwardedAddress(t *testing.T) {
	s := newServer(t, 1, func(o *Options) { o.TrustProxyHeaders = true })

	if got := s.dialFrom(t, "10.0.0.1"); got != http.StatusSwitchingProtocols {
		t.Errorf("first 10.0.0.1 status = %d, want 101", got)
	}
	if got := s.dialFrom(t, "10.0.0.2"); got != http.StatusSwitchingProtocols {
		t.Errorf("10.0.0.2 status = %d, want 101", got)
	}
	if got := s.dialFrom(t, "10.0.0.1"); got != http.StatusTooManyRequests {
		t.Errorf("second 10.0.0.1 status = %d, want 429", got)
	}
}

func TestResume_ReplaysQueuedChanges(t *testing.T) {
	s := newServer(t, 100)
	conn := s.dial(t, "")
	var first models.ConnectedPayload
	expectFrame(t, conn, models.MessageTypeConnected, &first)

	send(t, conn, models.MessageTypeSubscribe, models.TopicsPayload{Topics: []string{"category:orders"}})
	expectFrame(t, conn, models.MessageTypeSubscribed, nil)

	_ = conn.Close()
	waitFor(t, "detached session", func() bool {
		state, _ := s.mgr.Target(first.ClientID)
		return state == clients.TargetDetached
	})

	res := s.broadcaster.PublishChange(context.Background(), &models.ChangeRecord{
		ID: "o1", Category: models.CategoryOrders, EntityID: "ord-9", ChangeType: models.ChangeTransition,
	})
	if res.Queued != 1 {
		t.Fatalf("Queued = %d, want 1", res.Queued)
	}

	again := s.dial(t, url.Values{"client_id": {first.ClientID}}.Encode())
	var resumed models.ConnectedPayload
	expectFrame(t, again, models.MessageTypeConnected, &resumed)
	if resumed.ClientID != first.ClientID || !resumed.Resumed || resumed.Replayed != 1 {
		t.Errorf("connected = %+v, want resumed %s with 1 replayed", resumed, first.ClientID)
	}
	var ev models.ChangeEvent
	expectFrame(t, again, models.MessageTypeChange, &ev)
	if ev.Payload == nil || ev.Payload.ID != "o1" {
		t.Errorf("replayed = %+v, want o1", ev)
	}
}
