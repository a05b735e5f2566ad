// Package admin serves the operational HTTP API: registry and bundle
// inspection, health, metrics, and bundle start/stop/call operations.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/cobaltlabs/conductor/internal/statestore"
	"github.com/cobaltlabs/conductor/internal/stream"
	"github.com/cobaltlabs/conductor/pkg/bundle"
	"github.com/cobaltlabs/conductor/pkg/config"
	"github.com/cobaltlabs/conductor/pkg/health"
	"github.com/cobaltlabs/conductor/pkg/lifecycle"
	"github.com/cobaltlabs/conductor/pkg/logging"
	"github.com/cobaltlabs/conductor/pkg/metrics"
)

// Server is the admin API server.
type Server struct {
	config           *config.Config
	router           *chi.Mux
	registry         *lifecycle.Registry
	orchestrator     *bundle.Orchestrator
	server           *http.Server
	logger           *logging.Logger
	metricsCollector *metrics.Metrics
	healthRegistry   *health.Registry
}

// NewServer creates the admin API server.
func NewServer(
	cfg *config.Config,
	registry *lifecycle.Registry,
	orchestrator *bundle.Orchestrator,
	logger *logging.Logger,
	metricsCollector *metrics.Metrics,
) *Server {
	r := chi.NewRouter()

	healthRegistry := health.NewRegistry(logger)

	s := &Server{
		config:           cfg,
		router:           r,
		registry:         registry,
		orchestrator:     orchestrator,
		logger:           logger,
		metricsCollector: metricsCollector,
		healthRegistry:   healthRegistry,
		server: &http.Server{
			Addr:    ":" + cfg.API.Port,
			Handler: r,
		},
	}

	s.setupMiddleware()
	s.setupRoutes()
	s.setupHealthChecks()

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(MetricsMiddleware(s.metricsCollector))
	s.router.Use(Recoverer(s.logger))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.API.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.router.Use(httprate.LimitByIP(s.config.API.RateLimitPerMinute, 1*time.Minute))
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Method(http.MethodGet, "/healthz", s.healthRegistry.Handler())
	s.router.Method(http.MethodGet, "/metrics", s.metricsCollector.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/services", s.handleListServices)
		r.Get("/services/{name}", s.handleGetService)
		r.Get("/services/{name}/health", s.handleServiceHealth)
		r.Get("/summary", s.handleSummary)
		r.Get("/system/health", s.handleSystemHealth)
		r.Get("/events", s.handleRecentEvents)
		r.Get("/snapshot", s.handleSnapshot)

		r.Get("/bundles", s.handleListBundles)
		r.Get("/bundles/{name}", s.handleGetBundle)
		r.Post("/bundles/{name}/start", s.handleStartBundle)
		r.Post("/bundles/{name}/stop", s.handleStopBundle)
		r.Post("/instances/{id}/call", s.handleCallInstance)
	})
}

// setupHealthChecks registers the server's own liveness probe plus the
// registry aggregate.
func (s *Server) setupHealthChecks() {
	s.healthRegistry.Register("admin-api", health.ServiceChecker("admin-api", func(ctx context.Context) error {
		return nil
	}))
	s.healthRegistry.Register("registry", health.ServiceChecker("registry", func(ctx context.Context) error {
		sys := s.registry.SystemHealth(ctx)
		if sys.Status == lifecycle.SystemUnhealthy {
			return fmt.Errorf("system health is %s", sys.Status)
		}
		return nil
	}))
	s.healthRegistry.Register("redis", health.RedisChecker(s.config.Redis.Address, func(ctx context.Context) error {
		store, ok := s.registry.Get("statestore").(*statestore.Store)
		if !ok {
			return fmt.Errorf("statestore is not ready")
		}
		return store.Ping(ctx)
	}))
	s.healthRegistry.Register("kafka", health.KafkaChecker(s.config.Kafka.Brokers, func(ctx context.Context) error {
		publisher, ok := s.registry.Get("events").(*stream.Publisher)
		if !ok {
			return fmt.Errorf("event publisher is not ready")
		}
		return publisher.Ping(ctx)
	}))
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("admin API listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin API server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Descriptor returns the lifecycle registration for the admin API. It depends
// on the statestore and event publisher so the full observability surface is
// up before the API accepts traffic.
func Descriptor(
	cfg *config.Config,
	registry *lifecycle.Registry,
	orchestrator *bundle.Orchestrator,
	logger *logging.Logger,
	metricsCollector *metrics.Metrics,
) lifecycle.Descriptor {
	return lifecycle.Descriptor{
		Name:         "admin-api",
		Description:  "operational HTTP API",
		Dependencies: []string{"statestore", "events"},
		Tags:         []string{"http", "api"},
		Factory: func(ctx context.Context) (interface{}, error) {
			server := NewServer(cfg, registry, orchestrator, logger, metricsCollector)
			server.Start()
			return server, nil
		},
		Shutdown: func(ctx context.Context, instance interface{}) error {
			return instance.(*Server).Shutdown(ctx)
		},
	}
}
