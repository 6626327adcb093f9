// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package models

import "time"

// Message is the envelope of every frame on the client protocol,
// in both directions.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Client to server message types.
const (
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypeRequest     = "request"
	MessageTypePing        = "ping"
)

// Server to client message types.
const (
	MessageTypeConnected         = "connected"
	MessageTypeSubscribed        = "subscribed"
	MessageTypeUnsubscribed      = "unsubscribed"
	MessageTypeResponse          = "response"
	MessageTypePong              = "pong"
	MessageTypeChange            = "change"
	MessageTypeAlert             = "alert"
	MessageTypeAlertAcknowledged = "alert:acknowledged"
	MessageTypeSystemUpdate      = "system:update"
)

// IsBroadcast reports whether t is a fan-out push that is queued for
// clients in their grace period. Replies to a single request are not.
func IsBroadcast(t string) bool {
	switch t {
	case MessageTypeChange, MessageTypeAlert, MessageTypeAlertAcknowledged, MessageTypeSystemUpdate:
		return true
	}
	return false
}

// ErrorType returns the scoped error event for an operation, e.g. "subscribe:error".
func ErrorType(op string) string {
	return op + ":error"
}

// TopicsPayload is the body of subscribe and unsubscribe frames.
type TopicsPayload struct {
	Topics []string `json:"topics"`
}

// SubscriptionAck is sent after a subscribe or unsubscribe.
type SubscriptionAck struct {
	Topics []string `json:"topics"`
	Denied []string `json:"denied,omitempty"`
}

// RequestPayload is the body of a request frame.
type RequestPayload struct {
	RequestID  string                 `json:"requestId,omitempty"`
	DataType   string                 `json:"dataType"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// ResponsePayload answers a request frame.
type ResponsePayload struct {
	RequestID string      `json:"requestId,omitempty"`
	DataType  string      `json:"dataType"`
	Data      interface{} `json:"data"`
}

// ErrorPayload is the body of every "<op>:error" event.
type ErrorPayload struct {
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// PongPayload answers a ping.
type PongPayload struct {
	ServerTime time.Time `json:"serverTime"`
}

// ConnectedPayload is the first frame sent on a new or resumed connection.
type ConnectedPayload struct {
	ClientID      string `json:"clientId"`
	Authenticated bool   `json:"authenticated"`
	Role          string `json:"role"`
	Resumed       bool   `json:"resumed"`
	Replayed      int    `json:"replayed"`
}

// ChangeEvent is the body of a change push.
type ChangeEvent struct {
	Category Category      `json:"category"`
	Payload  *ChangeRecord `json:"payload"`
}

// AlertEvent is the body of alert and alert:acknowledged pushes.
type AlertEvent struct {
	Payload *Alert `json:"payload"`
}

// SystemUpdate is the body of a system:update push.
type SystemUpdate struct {
	Metrics HealthMetrics `json:"metrics"`
}
