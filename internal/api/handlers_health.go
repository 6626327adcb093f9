// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/changewatch/internal/health"
)

// healthResponse is the /health body: the monitor report plus uptime.
type healthResponse struct {
	health.Report
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Health reports upstream and transport status. It answers 503 unless the
// upstream is healthy and its breaker is not open.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report, status := h.health.Report()
	respondJSON(w, status, healthResponse{
		Report:        report,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	})
}

// HealthHistory returns persisted health samples, newest first.
func (h *Handler) HealthHistory(w http.ResponseWriter, r *http.Request) {
	req := LimitRequest{Limit: getIntParam(r, "limit", 100)}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	samples, err := h.eventLog.RecentHealthSamples(r.Context(), req.Limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read health history", err)
		return
	}
	respondSuccess(w, http.StatusOK, samples, len(samples))
}

// Metrics returns the current health monitor counters.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, h.health.Metrics(), 0)
}
