// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package eventprocessor

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/changewatch/internal/models"
)

// Event kinds carried in Envelope.Kind.
const (
	KindChange = "change"
	KindAlert  = "alert"
)

// Envelope is the payload of every mirrored message.
type Envelope struct {
	EventID    string          `json:"eventId"`
	Kind       string          `json:"kind"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// EncodeChange wraps rec in an envelope.
func EncodeChange(rec *models.ChangeRecord) ([]byte, error) {
	return encode(rec.ID, KindChange, rec.DetectedAt, rec)
}

// EncodeAlert wraps a in an envelope.
func EncodeAlert(a *models.Alert) ([]byte, error) {
	return encode(a.ID, KindAlert, a.TriggeredAt, a)
}

func encode(id, kind string, at time.Time, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s %s: %w", kind, id, err)
	}
	return json.Marshal(Envelope{EventID: id, Kind: kind, OccurredAt: at.UTC(), Data: data})
}

// Decode parses an envelope and its payload. The returned value is a
// *models.ChangeRecord or a *models.Alert.
func Decode(payload []byte) (*Envelope, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	switch env.Kind {
	case KindChange:
		var rec models.ChangeRecord
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			return &env, nil, fmt.Errorf("unmarshal change %s: %w", env.EventID, err)
		}
		return &env, &rec, nil
	case KindAlert:
		var a models.Alert
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return &env, nil, fmt.Errorf("unmarshal alert %s: %w", env.EventID, err)
		}
		return &env, &a, nil
	default:
		return &env, nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}
}
