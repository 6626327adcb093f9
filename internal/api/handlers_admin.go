// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/changewatch/internal/clients"
	"github.com/tomtom215/changewatch/internal/models"
)

// Clients lists connected sessions, oldest first. Message contents are
// never included.
func (h *Handler) Clients(w http.ResponseWriter, r *http.Request) {
	list, err := h.clients.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list clients", err)
		return
	}
	if list == nil {
		list = []clients.Info{}
	}
	respondSuccess(w, http.StatusOK, list, len(list))
}

// Changes returns the most recent change records of a category, oldest first.
func (h *Handler) Changes(w http.ResponseWriter, r *http.Request) {
	category, err := models.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	req := LimitRequest{Limit: getIntParam(r, "limit", 100)}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	records, err := h.eventLog.RecentChanges(r.Context(), category, req.Limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read changes", err)
		return
	}
	if records == nil {
		records = []*models.ChangeRecord{}
	}
	respondSuccess(w, http.StatusOK, records, len(records))
}

// runResult is the body of a manual detection run.
type runResult struct {
	Category   models.Category `json:"category"`
	Rows       int             `json:"rows"`
	Changes    int             `json:"changes"`
	Skipped    int             `json:"skipped"`
	DurationMs int64           `json:"durationMs"`
}

// RunDetector runs one detection cycle now. A cycle already in flight is
// not waited for: the request gets 409.
func (h *Handler) RunDetector(w http.ResponseWriter, r *http.Request) {
	category, err := models.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	d, ok := h.detectors.Get(category)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Detector not enabled", nil)
		return
	}

	res, err := d.RunOnce(r.Context())
	if err != nil {
		if errors.Is(err, models.ErrCycleInProgress) {
			respondError(w, http.StatusConflict, "CONFLICT", "Detection cycle already running", nil)
			return
		}
		respondOpError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, runResult{
		Category:   res.Category,
		Rows:       res.Rows,
		Changes:    res.Changes,
		Skipped:    res.Skipped,
		DurationMs: res.Duration.Milliseconds(),
	}, 0)
}
