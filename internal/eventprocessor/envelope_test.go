// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package eventprocessor

import (
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/changewatch/internal/models"
)

func TestEncodeDecode_Change(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &models.ChangeRecord{
		ID:         "chg-1",
		Category:   models.CategoryInventory,
		EntityID:   "P1",
		Sequence:   7,
		NewValue:   models.Fields{"quantity": float64(3)},
		ChangeType: models.ChangeDecrease,
		DetectedAt: at,
	}

	payload, err := EncodeChange(rec)
	if err != nil {
		t.Fatalf("EncodeChange() error = %v", err)
	}
	env, v, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if env.EventID != "chg-1" || env.Kind != KindChange || !env.OccurredAt.Equal(at) {
		t.Errorf("envelope = %+v", env)
	}
	got, ok := v.(*models.ChangeRecord)
	if !ok {
		t.Fatalf("Decode() value = %T, want *models.ChangeRecord", v)
	}
	if got.Sequence != 7 || got.EntityID != "P1" || got.NewValue["quantity"] != float64(3) {
		t.Errorf("record = %+v", got)
	}
}

func TestEncodeDecode_Alert(t *testing.T) {
	a := &models.Alert{
		ID:          "al-1",
		Type:        models.AlertOutOfStock,
		Severity:    models.SeverityCritical,
		EntityID:    "P1",
		TriggeredAt: time.Now(),
	}
	payload, err := EncodeAlert(a)
	if err != nil {
		t.Fatalf("EncodeAlert() error = %v", err)
	}
	env, v, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if env.Kind != KindAlert {
		t.Errorf("kind = %q", env.Kind)
	}
	if got := v.(*models.Alert); got.Type != models.AlertOutOfStock || got.Severity != models.SeverityCritical {
		t.Errorf("alert = %+v", got)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"not json", `{`, "unmarshal envelope"},
		{"unknown kind", `{"eventId":"x","kind":"weather","data":{}}`, "unknown event kind"},
		{"bad change", `{"eventId":"x","kind":"change","data":{"sequence":"seven"}}`, "unmarshal change x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tt.payload))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Decode() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}
