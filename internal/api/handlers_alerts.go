// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/changewatch/internal/auth"
	"github.com/tomtom215/changewatch/internal/models"
)

// Alerts lists unacknowledged, unexpired alerts, newest first, optionally
// filtered by ?severity=.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	var severity models.Severity
	if raw := r.URL.Query().Get("severity"); raw != "" {
		sev, err := models.ParseSeverity(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		severity = sev
	}

	out := make([]*models.Alert, 0)
	for _, a := range h.alerts.Active() {
		if severity == "" || a.Severity == severity {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	respondSuccess(w, http.StatusOK, out, len(out))
}

// AcknowledgeAlert marks an alert acknowledged and frees its dedup slot.
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AcknowledgeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body", nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	by := req.AcknowledgedBy
	if by == "" {
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
			by = claims.Username
		}
	}
	if by == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "acknowledgedBy is required", nil)
		return
	}

	alert, err := h.alerts.Acknowledge(r.Context(), id, by)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, alert, 0)
}

// thresholdView is one entry of GET /alerts/thresholds.
type thresholdView struct {
	Type      models.AlertType `json:"type"`
	Threshold float64          `json:"threshold"`
	Severity  models.Severity  `json:"severity"`
}

// Thresholds lists the current rule thresholds, sorted by type.
func (h *Handler) Thresholds(w http.ResponseWriter, r *http.Request) {
	current := h.alerts.Thresholds()
	out := make([]thresholdView, 0, len(current))
	for t, th := range current {
		out = append(out, thresholdView{Type: t, Threshold: th.Value, Severity: th.Severity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	respondSuccess(w, http.StatusOK, out, len(out))
}

// UpdateThreshold replaces one rule threshold. Alerts already raised keep
// their severity.
func (h *Handler) UpdateThreshold(w http.ResponseWriter, r *http.Request) {
	alertType := models.AlertType(chi.URLParam(r, "type"))

	var req ThresholdRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body", nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	th := models.Threshold{Value: *req.Threshold, Severity: models.Severity(req.Severity)}
	if err := h.alerts.UpdateThreshold(alertType, th); err != nil {
		if errors.Is(err, models.ErrUnknownThreshold) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
			return
		}
		respondOpError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, thresholdView{Type: alertType, Threshold: th.Value, Severity: th.Severity}, 0)
}
