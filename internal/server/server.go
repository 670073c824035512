/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skald/internal/api"
	"github.com/friendsincode/skald/internal/catalog"
	"github.com/friendsincode/skald/internal/config"
	"github.com/friendsincode/skald/internal/db"
	"github.com/friendsincode/skald/internal/devices"
	"github.com/friendsincode/skald/internal/events"
	"github.com/friendsincode/skald/internal/history"
	"github.com/friendsincode/skald/internal/hub"
	"github.com/friendsincode/skald/internal/queue"
	"github.com/friendsincode/skald/internal/session"
	"github.com/friendsincode/skald/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db       *gorm.DB
	bus      *events.Bus
	catalog  *catalog.Service
	registry *devices.Registry
	hub      *hub.Hub
	manager  *session.Manager
	recorder *history.Recorder
	api      *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("skald-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for WebSocket connections; they live until the client
	// disconnects or the server shuts down.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout 0 so WebSocket connections are not cut; the
		// middleware timeout handles the plain HTTP routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	s.catalog = catalog.New(database, s.logger)
	resolver := queue.New(s.catalog, s.logger)

	s.registry = devices.NewRegistry(s.cfg.DeviceGracePeriod, s.bus, s.logger)
	s.hub = hub.New(s.logger)
	s.manager = session.NewManager(resolver, s.registry, s.hub, s.bus, s.logger)

	s.recorder = history.NewRecorder(database, s.bus, s.logger)

	s.api = api.New(s.manager, s.hub, s.recorder, s.logger)
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Eviction sweep: devices missing heartbeats past the grace period are
	// removed; if the active device goes, playback pauses.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		interval := s.cfg.EvictionInterval()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.logger.Info().Dur("interval", interval).Msg("device eviction sweep started")
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.manager.SweepDevices(now)
			}
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.recorder.Start(ctx)
	}()

	// Dedicated metrics listener, kept off the public bind.
	if s.cfg.MetricsBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", telemetry.Handler())
		metricsSrv := &http.Server{
			Addr:              s.cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.DeferClose(func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
		// Not tracked by bgWG: the goroutine exits when the close hook
		// shuts the listener down, which runs after the workers stop.
		go func() {
			s.logger.Info().Str("addr", s.cfg.MetricsBind).Msg("metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error().Err(err).Msg("metrics server exited")
			}
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
