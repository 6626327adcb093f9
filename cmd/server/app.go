// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/juju/clock"

	"github.com/tomtom215/changewatch/internal/alerting"
	"github.com/tomtom215/changewatch/internal/api"
	"github.com/tomtom215/changewatch/internal/auth"
	"github.com/tomtom215/changewatch/internal/authz"
	"github.com/tomtom215/changewatch/internal/broadcast"
	"github.com/tomtom215/changewatch/internal/clients"
	"github.com/tomtom215/changewatch/internal/config"
	"github.com/tomtom215/changewatch/internal/detection"
	"github.com/tomtom215/changewatch/internal/eventlog"
	"github.com/tomtom215/changewatch/internal/eventprocessor"
	"github.com/tomtom215/changewatch/internal/health"
	"github.com/tomtom215/changewatch/internal/logging"
	"github.com/tomtom215/changewatch/internal/models"
	"github.com/tomtom215/changewatch/internal/pipeline"
	"github.com/tomtom215/changewatch/internal/queue"
	"github.com/tomtom215/changewatch/internal/ratelimit"
	"github.com/tomtom215/changewatch/internal/registry"
	"github.com/tomtom215/changewatch/internal/snapshot"
	"github.com/tomtom215/changewatch/internal/supervisor"
	"github.com/tomtom215/changewatch/internal/supervisor/services"
	"github.com/tomtom215/changewatch/internal/upstream"
	ws "github.com/tomtom215/changewatch/internal/websocket"
)

const (
	// fixtureStepInterval paces the demo data simulator.
	fixtureStepInterval = 3 * time.Second
	// authzCacheTTL bounds how long a policy decision is reused.
	authzCacheTTL = time.Minute
)

// app holds the assembled process.
type app struct {
	tree    *supervisor.SupervisorTree
	server  *http.Server
	closers []io.Closer
	stops   []func()
}

// newApp builds every component and registers it with the supervisor tree.
// Errors here are the unrecoverable startup failures; everything after
// boot is supervised.
//
//nolint:gocyclo // sequential wiring
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	clk := clock.WallClock

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
		return nil, fmt.Errorf("create supervisor tree: %w", err)
	}
	a.tree = tree

	// Upstream
	sqlSource, err := upstream.Open(cfg.Upstream)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sqlSource)
	if cfg.Upstream.SeedFixture {
		if err := upstream.SeedFixture(ctx, sqlSource.DB()); err != nil {
			a.Close()
			return nil, fmt.Errorf("seed fixture: %w", err)
		}
		tree.AddDataService(upstream.NewSimulator(sqlSource.DB(), fixtureStepInterval))
		logging.Info().Msg("Upstream fixture seeded, simulator enabled")
	}
	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.Upstream.QueryTimeout)
	err = sqlSource.Ping(pingCtx)
	cancelPing()
	if err != nil {
		a.Close()
		return nil, models.NewOpError(models.ErrUpstreamQuery, "boot", cfg.Upstream.Driver, err)
	}
	logging.Info().Str("driver", cfg.Upstream.Driver).Msg("Upstream reachable")

	var source upstream.Source = sqlSource
	if cfg.Upstream.Breaker.Enabled {
		source = upstream.NewBreakerSource(sqlSource, cfg.Upstream.Breaker)
	}

	// Event log
	var store eventlog.Store
	switch cfg.EventLog.Backend {
	case "duckdb":
		duck, err := eventlog.OpenDuckDB(ctx, cfg.EventLog.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		store = duck
	default:
		store = eventlog.NewMemoryStore()
	}
	a.closers = append(a.closers, store)
	tree.AddDataService(eventlog.NewCleaner(store, cfg.Retention, clk))

	// Snapshot
	snap := snapshot.New()
	if cfg.Snapshot.CheckpointEnabled {
		cp, err := snapshot.OpenBadgerCheckpoint(cfg.Snapshot.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, cp)
		n, err := snap.Restore(ctx, cp)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("restore snapshot: %w", err)
		}
		logging.Info().Int("entities", n).Str("path", cfg.Snapshot.Path).Msg("Snapshot restored")
		tree.AddDataService(snapshot.NewCheckpointService(snap, cp, cfg.Snapshot.CheckpointInterval))
	}

	// Offline queue
	qopts := queue.Options{MaxSize: cfg.Queue.MaxSize, Retention: cfg.Queue.Retention}
	var q queue.Store
	switch cfg.Queue.Backend {
	case "redis":
		client, err := queue.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client)
		q = queue.NewRedisStore(client, cfg.Redis.KeyPrefix, qopts, clk)
	default:
		q = queue.NewMemoryStore(qopts, clk)
	}

	// Connections
	var jwtManager *auth.JWTManager
	if cfg.Security.JWTSecret != "" {
		jwtManager, err = auth.NewJWTManager(&cfg.Security)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	enforcer, err := authz.NewEnforcer(authzCacheTTL)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.stops = append(a.stops, enforcer.Close)

	reg := registry.New()
	manager := clients.NewManager(cfg.Connections, clients.Deps{
		Limiter:  ratelimit.New(cfg.Connections.RateLimitRequests, cfg.Connections.RateLimitWindow, clk),
		JWT:      jwtManager,
		Enforcer: enforcer,
		Registry: reg,
		Queue:    q,
		Clock:    clk,
	})
	bc := broadcast.New(manager, reg, q, 0)

	// Mirror
	var mirror pipeline.Mirror
	if cfg.NATS.Enabled {
		m, err := eventprocessor.NewMirror(eventprocessor.MirrorConfigFrom(cfg.NATS))
		switch {
		case errors.Is(err, eventprocessor.ErrNATSUnavailable):
			logging.Warn().Msg("NATS_ENABLED=true but this binary was built without -tags=nats; mirror disabled")
		case err != nil:
			a.Close()
			return nil, err
		default:
			mirror = m
			tree.AddMessagingService(services.NewLifecycleService("nats-mirror", m, cfg.Supervisor.ShutdownTimeout))
		}
	}

	// Health and alerts
	monitor := health.New(cfg.Health, health.Options{
		Pinger:       source,
		EventLog:     store,
		Publisher:    bc,
		Connections:  manager,
		BreakerState: func() string { return upstream.BreakerState(source) },
		Clock:        clk,
	})
	measured := upstream.NewInstrumentedSource(source, monitor)

	engine := alerting.New(cfg.Alerts, alerting.Options{
		EventLog: store,
		Notifier: pipeline.NewAlertNotifier(bc, mirror),
		Health:   monitor,
		Counter:  monitor,
		Clock:    clk,
	})
	restored, err := engine.Restore(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to restore active alerts")
	} else if restored > 0 {
		logging.Info().Int("alerts", restored).Msg("Active alerts restored")
	}
	monitor.SetAlertEvaluator(engine)

	dispatcher := pipeline.NewDispatcher(pipeline.Options{
		Publisher: bc,
		Alerts:    engine,
		Mirror:    mirror,
		EventLog:  store,
		Counter:   monitor,
	})

	// Detectors
	var detectors []*detection.Detector
	for _, c := range models.AllCategories {
		dc := cfg.Detectors.For(c)
		if !dc.Enabled {
			continue
		}
		detectors = append(detectors, detection.New(c, dc, detection.Options{
			Source:       measured,
			Snapshot:     snap,
			EventLog:     store,
			Emitter:      dispatcher,
			QueryTimeout: cfg.Upstream.QueryTimeout,
			Clock:        clk,
		}))
	}
	set := detection.NewSet(detectors...)
	if err := set.Seed(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("seed detector sequences: %w", err)
	}

	// HTTP
	wsHandler := ws.NewHandler(ws.Options{
		Manager:        manager,
		Replayer:       bc,
		Queue:          q,
		Snapshot:       snap,
		EventLog:       store,
		Alerts:         engine,
		Health:         monitor,
		AllowedOrigins: cfg.Connections.AllowedOrigins,
		Clock:          clk,

		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	})
	handler := api.NewHandler(api.HandlerDeps{
		Health:    monitor,
		Alerts:    engine,
		Clients:   manager,
		Detectors: set,
		EventLog:  store,
	})
	mwConfig := api.DefaultChiMiddlewareConfig()
	mwConfig.CORSAllowedOrigins = cfg.Security.CORSOrigins
	mwConfig.RateLimitRequests = cfg.Security.RateLimitReqs
	mwConfig.RateLimitWindow = cfg.Security.RateLimitWindow
	mwConfig.TrustProxyHeaders = cfg.Server.TrustProxyHeaders
	guard := &api.AdminGuard{Enabled: cfg.Security.AdminAuth, Policy: enforcer}
	if jwtManager != nil {
		guard.Verifier = jwtManager
	}
	router := api.NewRouter(handler, api.NewChiMiddleware(mwConfig), guard, wsHandler)

	a.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	httpService := services.NewHTTPServerService(a.server, cfg.Server.ShutdownTimeout)
	httpService.OnShutdown(func(context.Context) {
		logging.Info().Int("clients", manager.Count()).Msg("Closing client connections")
		manager.CloseAll()
	})

	// Supervisor tree
	tree.AddDataService(engine)
	tree.AddDetectionService(dispatcher)
	for _, d := range set.All() {
		tree.AddDetectionService(d)
	}
	tree.AddMessagingService(reg)
	tree.AddMessagingService(manager)
	tree.AddMessagingService(monitor)
	tree.AddAPIService(httpService)

	logging.Info().
		Int("detectors", len(detectors)).
		Bool("checkpoint", cfg.Snapshot.CheckpointEnabled).
		Bool("mirror", mirror != nil).
		Msg("Components initialized")
	return a, nil
}

// Close releases stores and connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.stops) - 1; i >= 0; i-- {
		a.stops[i]()
	}
	a.stops = nil
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logging.Error().Err(err).Msg("Error during close")
		}
	}
	a.closers = nil
}
