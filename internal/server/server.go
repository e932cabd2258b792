/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the deduplication engine together and serves its HTTP
// surface.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mikl0s/PLM/internal/api"
	"github.com/mikl0s/PLM/internal/cache"
	"github.com/mikl0s/PLM/internal/config"
	"github.com/mikl0s/PLM/internal/db"
	"github.com/mikl0s/PLM/internal/dedupe"
	"github.com/mikl0s/PLM/internal/eventbus"
	"github.com/mikl0s/PLM/internal/events"
	"github.com/mikl0s/PLM/internal/fingerprint"
	"github.com/mikl0s/PLM/internal/models"
	"github.com/mikl0s/PLM/internal/plex"
	"github.com/mikl0s/PLM/internal/scanner"
	"github.com/mikl0s/PLM/internal/servers"
	"github.com/mikl0s/PLM/internal/telemetry"
	"github.com/mikl0s/PLM/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db       *gorm.DB
	cache    *cache.Cache
	bus      *events.Bus
	natsBus  *eventbus.NATSBus
	tracer   *telemetry.TracerProvider
	registry *servers.Service
	matches  *dedupe.Store
	scanner  *scanner.Service
	api      *api.API

	metricsListener net.Listener

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	return newServer(cfg, logger, true)
}

// NewOneShot wires the dependency graph without starting the scan loop or
// the metrics listener. Used by CLI subcommands that run a single operation
// and exit.
func NewOneShot(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	return newServer(cfg, logger, false)
}

func newServer(cfg *config.Config, logger zerolog.Logger, withWorkers bool) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("plm-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

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
	if withWorkers {
		srv.startBackgroundWorkers()
	}

	srv.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.HTTPBind, strconv.Itoa(cfg.HTTPPort)),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

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
	if err := db.RegisterCallbacks(database); err != nil {
		s.logger.Warn().Err(err).Msg("database telemetry callbacks not registered")
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Redis cache for the server-list hot path. Optional: an empty addr or a
	// failed connection leaves the engine reading straight from the database.
	if s.cfg.RedisAddr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		entityCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = entityCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	// NATS fan-out mirrors domain events to external consumers. Optional.
	if s.cfg.NATSURL != "" {
		natsBus, err := eventbus.NewNATSBus(eventbus.DefaultNATSConfig(s.cfg.NATSURL), s.bus, []events.EventType{
			events.EventFingerprintCreated,
			events.EventMatchCreated,
			events.EventMatchReviewed,
			events.EventScanStarted,
			events.EventScanCompleted,
		}, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("nats connection failed, events stay in-process")
		} else {
			s.natsBus = natsBus
			s.DeferClose(natsBus.Close)
		}
	}

	tracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "plm",
		ServiceVersion: version.Version,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		Enabled:        s.cfg.TracingEnabled,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("tracer initialization failed, continuing without tracing")
	} else {
		s.tracer = tracer
		s.DeferClose(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.tracer.Shutdown(ctx)
		})
	}

	s.registry = servers.NewService(database, s.cache, s.bus, s.logger)

	fingerprints := fingerprint.NewStore(database)
	s.matches = dedupe.NewStore(database, s.bus)
	matcher := dedupe.NewMatcher(fingerprints, s.matches, s.bus, s.logger)
	generator := fingerprint.NewGenerator(fingerprints, matcher, s.bus, s.logger)

	clientCfg := plex.Config{Timeout: s.cfg.PlexTimeout, Retries: s.cfg.PlexRetries}
	factory := func(server *models.PlexServer) (scanner.LibraryClient, error) {
		return plex.NewClient(server.URL, server.Token, clientCfg, s.logger)
	}

	s.scanner = scanner.New(database, s.registry, generator, fingerprints, matcher, s.bus,
		factory, s.cfg.ScanInterval, s.cfg.PlexPageSize, s.logger)

	s.api = api.New(database, []byte(s.cfg.JWTSigningKey), s.registry, s.matches, s.scanner, plex.SignIn, s.logger)
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Scanner exposes the scan service for CLI subcommands.
func (s *Server) Scanner() *scanner.Service {
	return s.scanner
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	if s.metricsListener != nil {
		_ = s.metricsListener.Close()
	}
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

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.scanner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("scan loop exited")
		}
	}()

	// Database metrics updater.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	// Metrics are served on a separate listener so the operational surface
	// never shares a port with the tenant-facing API.
	if s.cfg.MetricsBind != "" {
		listener, err := net.Listen("tcp", s.cfg.MetricsBind)
		if err != nil {
			s.logger.Warn().Err(err).Str("bind", s.cfg.MetricsBind).Msg("metrics listener failed, metrics disabled")
			return
		}
		s.metricsListener = listener

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", telemetry.Handler())

		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := http.Serve(listener, metricsMux); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Error().Err(err).Msg("metrics server exited")
			}
		}()
		s.logger.Info().Str("bind", s.cfg.MetricsBind).Msg("metrics listener started")
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	if s.metricsListener != nil {
		_ = s.metricsListener.Close()
		s.metricsListener = nil
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","version":"` + version.Version + `"}`))
	})

	s.api.Routes(s.router)
}
