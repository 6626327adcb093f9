// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package api

import (
	"context"
	"time"

	"github.com/tomtom215/changewatch/internal/clients"
	"github.com/tomtom215/changewatch/internal/detection"
	"github.com/tomtom215/changewatch/internal/eventlog"
	"github.com/tomtom215/changewatch/internal/health"
	"github.com/tomtom215/changewatch/internal/models"
)

// HealthReporter is the health monitor as seen by the API.
type HealthReporter interface {
	Report() (health.Report, int)
	Metrics() models.HealthMetrics
}

// AlertService is the alert engine as seen by the API.
type AlertService interface {
	Active() []*models.Alert
	Acknowledge(ctx context.Context, id, by string) (*models.Alert, error)
	Thresholds() map[models.AlertType]models.Threshold
	UpdateThreshold(t models.AlertType, th models.Threshold) error
}

// ClientLister lists connected sessions.
type ClientLister interface {
	List(ctx context.Context) ([]clients.Info, error)
}

// DetectorRunner runs one detection cycle for a category.
type DetectorRunner interface {
	Get(c models.Category) (*detection.Detector, bool)
}

// Handler holds the dependencies of every admin endpoint.
type Handler struct {
	health    HealthReporter
	alerts    AlertService
	clients   ClientLister
	detectors DetectorRunner
	eventLog  eventlog.Store
	startTime time.Time
}

// HandlerDeps are the constructor arguments of NewHandler.
type HandlerDeps struct {
	Health    HealthReporter
	Alerts    AlertService
	Clients   ClientLister
	Detectors DetectorRunner
	EventLog  eventlog.Store
}

// NewHandler creates the admin API handler.
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		health:    deps.Health,
		alerts:    deps.Alerts,
		clients:   deps.Clients,
		detectors: deps.Detectors,
		eventLog:  deps.EventLog,
		startTime: time.Now(),
	}
}
