// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

//go:build nats

package eventprocessor

import (
	"context"
	"errors"
	"testing"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/changewatch/internal/config"
	"github.com/tomtom215/changewatch/internal/models"
)

func startMirror(t *testing.T) *Mirror {
	t.Helper()
	cfg := MirrorConfig{
		EmbeddedServer: true,
		Host:           "127.0.0.1",
		Port:           -1,
		StoreDir:       t.TempDir(),
		SubjectPrefix:  "changewatch",
		StreamName:     "CHANGEWATCH",
		MaxAge:         time.Hour,
		DuplicateWin:   time.Minute,
		ConnectTimeout: 5 * time.Second,
	}
	m, err := NewMirror(cfg)
	if err != nil {
		t.Fatalf("NewMirror() error = %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m
}

func TestMirror_NotReadyBeforeStart(t *testing.T) {
	m, err := NewMirror(MirrorConfigFrom(config.NATSConfig{URL: "nats://127.0.0.1:4222", SubjectPrefix: "changewatch"}))
	if err != nil {
		t.Fatalf("NewMirror() error = %v", err)
	}
	err = m.PublishChange(context.Background(), &models.ChangeRecord{ID: "c", Category: models.CategoryOrders})
	if !errors.Is(err, ErrMirrorNotReady) {
		t.Errorf("PublishChange() error = %v, want ErrMirrorNotReady", err)
	}
}

func TestMirror_PublishesOnCategoryAndSeveritySubjects(t *testing.T) {
	m := startMirror(t)

	nc, err := natsgo.Connect(m.ClientURL())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer nc.Close()

	changes, err := nc.SubscribeSync("changewatch.changes.>")
	if err != nil {
		t.Fatalf("SubscribeSync() error = %v", err)
	}
	alerts, err := nc.SubscribeSync("changewatch.alerts.critical")
	if err != nil {
		t.Fatalf("SubscribeSync() error = %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	ctx := context.Background()
	rec := &models.ChangeRecord{
		ID:         "chg-42",
		Category:   models.CategoryInventory,
		EntityID:   "P1",
		Sequence:   1,
		NewValue:   models.Fields{"quantity": float64(0)},
		ChangeType: models.ChangeDecrease,
		DetectedAt: time.Now(),
	}
	if err := m.PublishChange(ctx, rec); err != nil {
		t.Fatalf("PublishChange() error = %v", err)
	}
	if err := m.PublishAlert(ctx, &models.Alert{
		ID:          "al-42",
		Type:        models.AlertOutOfStock,
		Severity:    models.SeverityCritical,
		EntityID:    "P1",
		TriggeredAt: time.Now(),
	}); err != nil {
		t.Fatalf("PublishAlert() error = %v", err)
	}

	msg, err := changes.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("change not received: %v", err)
	}
	if msg.Subject != "changewatch.changes.inventory" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if id := msg.Header.Get(natsgo.MsgIdHdr); id != "chg-42" {
		t.Errorf("Nats-Msg-Id = %q, want chg-42", id)
	}
	env, v, err := Decode(msg.Data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if env.EventID != "chg-42" || v.(*models.ChangeRecord).EntityID != "P1" {
		t.Errorf("decoded %+v %+v", env, v)
	}

	if _, err := alerts.NextMsg(2 * time.Second); err != nil {
		t.Fatalf("alert not received: %v", err)
	}
}

func TestMirror_StreamDeduplicatesByID(t *testing.T) {
	m := startMirror(t)
	ctx := context.Background()

	rec := &models.ChangeRecord{ID: "chg-dup", Category: models.CategoryOrders, EntityID: "O1", DetectedAt: time.Now()}
	for i := 0; i < 3; i++ {
		if err := m.PublishChange(ctx, rec); err != nil {
			t.Fatalf("PublishChange() #%d error = %v", i, err)
		}
	}

	nc, err := natsgo.Connect(m.ClientURL())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer nc.Close()
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream.New() error = %v", err)
	}
	stream, err := js.Stream(ctx, "CHANGEWATCH")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.State.Msgs != 1 {
		t.Errorf("stream messages = %d, want 1", info.State.Msgs)
	}
}

func TestMirror_RestartAfterShutdown(t *testing.T) {
	m := startMirror(t)
	ctx := context.Background()

	m.Shutdown(ctx)
	if err := m.PublishChange(ctx, &models.ChangeRecord{ID: "a", Category: models.CategoryOrders}); !errors.Is(err, ErrMirrorNotReady) {
		t.Errorf("PublishChange() after Shutdown error = %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if err := m.PublishChange(ctx, &models.ChangeRecord{ID: "b", Category: models.CategoryOrders}); err != nil {
		t.Errorf("PublishChange() after restart error = %v", err)
	}
}
