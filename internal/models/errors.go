// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package models

import (
	"errors"
	"fmt"
)

// Failure kinds. None of them is fatal to the process.
var (
	// ErrUpstreamQuery is a failed or timed-out upstream query. Retried next cycle.
	ErrUpstreamQuery = errors.New("upstream query failed")

	// ErrDetection is a diff failure for a single entity. The entity is skipped.
	ErrDetection = errors.New("detection failed")

	// ErrAlertPersist is a failed alert write. The write is retried and the alert
	// is still delivered.
	ErrAlertPersist = errors.New("alert persist failed")

	// ErrDelivery is a failed push to one connection. Other recipients are unaffected.
	ErrDelivery = errors.New("delivery failed")

	// ErrAuth is a bad or missing token. The connection degrades to anonymous.
	ErrAuth = errors.New("authentication failed")

	// ErrRateLimitExceeded rejects a new connection setup.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

var (
	ErrAlertNotFound            = errors.New("alert not found")
	ErrAlertAlreadyAcknowledged = errors.New("alert already acknowledged")
	ErrUnknownThreshold         = errors.New("unknown alert threshold")
	ErrCycleInProgress          = errors.New("detection cycle already running")
	ErrRegistryStopped          = errors.New("subscription registry stopped")
	ErrTopicDenied              = errors.New("topic not permitted")
	ErrSessionClosed            = errors.New("session closed")
)

// OpError attaches an operation and key (category, entity, client id) to a
// failure kind.
type OpError struct {
	Kind error
	Op   string
	Key  string
	Err  error
}

// NewOpError wraps err under kind.
func NewOpError(kind error, op, key string, err error) *OpError {
	return &OpError{Kind: kind, Op: op, Key: key, Err: err}
}

func (e *OpError) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Key != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the failure kind.
func (e *OpError) Is(target error) bool {
	return target == e.Kind
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// ErrorCode maps an error to the code used in HTTP and protocol error bodies.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimitExceeded):
		return "RATE_LIMIT_EXCEEDED"
	case errors.Is(err, ErrAuth):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrTopicDenied):
		return "FORBIDDEN"
	case errors.Is(err, ErrAlertNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrAlertAlreadyAcknowledged), errors.Is(err, ErrCycleInProgress):
		return "CONFLICT"
	case errors.Is(err, ErrUnknownThreshold):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrUpstreamQuery):
		return "UPSTREAM_ERROR"
	case errors.Is(err, ErrDelivery):
		return "DELIVERY_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
