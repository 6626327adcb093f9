// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package api

// AcknowledgeRequest is the body of POST /alerts/{id}/acknowledge.
// AcknowledgedBy defaults to the token's username when admin auth is on.
type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledgedBy" validate:"omitempty,max=128"`
}

// ThresholdRequest is the body of PUT /alerts/thresholds/{type}.
type ThresholdRequest struct {
	Threshold *float64 `json:"threshold" validate:"required,gte=0"`
	Severity  string   `json:"severity" validate:"required,oneof=low medium high critical"`
}

// LimitRequest bounds list endpoints.
type LimitRequest struct {
	Limit int `validate:"min=1,max=1000"`
}
