// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/changewatch/internal/middleware"
)

// healthRateLimit is the permissive limit for monitoring endpoints.
const healthRateLimit = 1000

// Router assembles the admin API.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	guard         *AdminGuard
	ws            http.Handler
}

// NewRouter creates a router. ws serves /ws; guard may be nil to leave
// mutating routes open.
func NewRouter(handler *Handler, mw *ChiMiddleware, guard *AdminGuard, ws http.Handler) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, chiMiddleware: mw, guard: guard, ws: ws}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	if router.chiMiddleware.config.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())
	r.Use(middleware.PrometheusMetrics)

	// Monitoring endpoints
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(healthRateLimit, time.Minute, httprate.WithKeyFuncs(router.chiMiddleware.ClientKey())))
		r.Use(APISecurityHeaders())
		r.Get("/health", router.handler.Health)
		r.Get("/health/history", router.handler.HealthHistory)
		r.Get("/metrics", router.handler.Metrics)
		r.Handle("/metrics/prometheus", promhttp.Handler())
	})

	// Read and administration endpoints
	r.Group(func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders())

		r.Get("/clients", router.handler.Clients)
		r.Get("/changes/{category}", router.handler.Changes)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", router.handler.Alerts)
			r.Get("/thresholds", router.handler.Thresholds)
			r.With(router.guard.Require("thresholds", "update")).Put("/thresholds/{type}", router.handler.UpdateThreshold)
			r.With(router.guard.Require("alerts", "acknowledge")).Post("/{id}/acknowledge", router.handler.AcknowledgeAlert)
		})

		r.With(router.guard.Require("detectors", "run")).Post("/detectors/{category}/run", router.handler.RunDetector)
	})

	// Connection setup is rate limited by the connection manager.
	if router.ws != nil {
		r.Handle("/ws", router.ws)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}
