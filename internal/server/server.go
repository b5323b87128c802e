/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/wateringd/internal/api"
	"github.com/friendsincode/wateringd/internal/config"
	"github.com/friendsincode/wateringd/internal/eventbus"
	"github.com/friendsincode/wateringd/internal/events"
	"github.com/friendsincode/wateringd/internal/executor"
	"github.com/friendsincode/wateringd/internal/leadership"
	"github.com/friendsincode/wateringd/internal/scheduler"
	"github.com/friendsincode/wateringd/internal/telemetry"
	"github.com/friendsincode/wateringd/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	core                 *Core
	api                  *api.API
	leaderAwareScheduler *scheduler.LeaderAwareScheduler
	forwarder            *eventbus.Forwarder
	remoteEvents         *eventbus.RedisSubscriber

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server, runs the startup sequence and starts the
// background workers.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("wateringd-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for the event WebSocket
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
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
	}

	if err := srv.initDependencies(ctx); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 for the event WebSocket; the middleware timeout covers the rest.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies(ctx context.Context) error {
	tp, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "wateringd",
		ServiceVersion: version.Version,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		Enabled:        s.cfg.TracingEnabled,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.DeferClose(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	})

	core, err := NewCore(ctx, s.cfg, false, s.logger)
	if err != nil {
		return err
	}
	s.core = core
	s.DeferClose(core.Close)

	if err := core.Start(ctx); err != nil {
		return err
	}

	if s.cfg.LeaderElectionEnabled {
		electionCfg := leadership.DefaultConfig()
		electionCfg.RedisAddr = s.cfg.RedisAddr
		electionCfg.RedisPassword = s.cfg.RedisPassword
		electionCfg.RedisDB = s.cfg.RedisDB
		if s.cfg.InstanceID != "" {
			electionCfg.InstanceID = s.cfg.InstanceID
		}
		election, err := leadership.NewElection(electionCfg, s.logger)
		if err != nil {
			return err
		}
		s.leaderAwareScheduler = scheduler.NewLeaderAware(core.Scheduler, election, func(ctx context.Context) {
			if err := core.Controller.DeactivateAll(ctx, executor.SourceShutdown); err != nil {
				s.logger.Error().Err(err).Msg("failed to close valves after losing leadership")
			}
		}, s.logger)
		s.logger.Info().Str("instance_id", election.InstanceID()).Msg("leader election enabled")
	}

	nodeID := eventbus.NodeID()
	var publishers []eventbus.Publisher
	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		pub, err := eventbus.NewNATSPublisher(natsCfg, s.logger)
		if err != nil {
			// Event fan-out is optional; watering does not depend on it.
			s.logger.Warn().Err(err).Msg("nats unavailable, events stay local")
		} else {
			publishers = append(publishers, pub)
		}
	}
	if s.cfg.LeaderElectionEnabled {
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		publishers = append(publishers, eventbus.NewRedisPublisher(redisCfg, s.logger))

		// Writes served by a peer must reach the leader's trigger set.
		s.remoteEvents = eventbus.NewRedisSubscriber(redisCfg, nodeID, s.logger)
		s.DeferClose(s.remoteEvents.Close)
	}
	if len(publishers) > 0 {
		s.forwarder = eventbus.NewForwarder(core.Bus, nodeID, s.logger, publishers...)
	}

	s.api = api.New(core.Irrigation, core.Audit, core.Bus, api.Config{
		JWTSecret:         []byte(s.cfg.JWTSigningKey),
		AdminPasswordHash: s.cfg.AdminPasswordHash,
		TokenTTL:          s.cfg.TokenTTL,
		ManualRatePerSec:  s.cfg.ManualRatePerSec,
		ManualRateBurst:   s.cfg.ManualRateBurst,
	}, s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer is the dedicated metrics listener, nil unless configured.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Close stops the background workers, closes every valve and releases owned
// resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()

	if s.core != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.core.Controller.DeactivateAll(ctx, executor.SourceShutdown); err != nil {
			s.logger.Error().Err(err).Msg("failed to close valves on shutdown")
		}
		cancel()
	}

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Start scheduler (leader-aware if configured, otherwise direct)
	if s.leaderAwareScheduler != nil {
		s.goWorker(func() {
			if err := s.leaderAwareScheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("leader-aware scheduler exited")
			}
		})
	} else {
		s.goWorker(func() {
			if err := s.core.Scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("scheduler loop exited")
			}
		})
	}

	s.goWorker(func() { s.core.Audit.Start(ctx) })
	s.goWorker(func() {
		if err := s.core.Audit.RunPruner(ctx, s.cfg.HistoryPruneCron, s.cfg.HistoryRetention); err != nil {
			s.logger.Error().Err(err).Msg("history pruner exited")
		}
	})

	if s.forwarder != nil {
		s.goWorker(func() {
			if err := s.forwarder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("event forwarder exited")
			}
		})
	}

	if s.remoteEvents != nil {
		s.goWorker(func() {
			err := s.remoteEvents.Run(ctx, func(ctx context.Context, msg *eventbus.Message) {
				s.logger.Info().Str("event_type", string(msg.EventType)).Str("source_node", msg.NodeID).Msg("applying remote configuration change")
				s.core.Irrigation.ApplyRemoteChange(ctx)
			}, events.EventLineChanged, events.EventScheduleChanged)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("remote event listener exited")
			}
		})
	}
}

func (s *Server) goWorker(fn func()) {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		fn()
	}()
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
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", telemetry.Handler())
	s.api.Routes(s.router)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := `{"status":"ok"`

	// Add leader status if leader election is enabled
	if s.leaderAwareScheduler != nil {
		if s.leaderAwareScheduler.IsLeader() {
			response += `,"leader":true`
		} else {
			response += `,"leader":false`
		}
	}

	response += `}`
	_, _ = w.Write([]byte(response))
}
