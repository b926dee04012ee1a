// Package api exposes the HTTP surface: event submission endpoints,
// health, and metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatekeep/internal/audit"
	"gatekeep/internal/config"
	"gatekeep/internal/metrics"
	"gatekeep/internal/middleware"
	"gatekeep/internal/normalize"
	"gatekeep/internal/pipeline"
	"gatekeep/internal/quarantine"
	"gatekeep/internal/response"
)

// Server is the gatekeep HTTP server.
type Server struct {
	cfg        *config.Config
	normalizer *normalize.Normalizer
	pipeline   *pipeline.Pipeline
	executor   *response.Executor
	sink       audit.Sink
	quarantine quarantine.Store
	metrics    *metrics.Metrics
	registry   *prometheus.Registry
	limiter    *middleware.RateLimiter
	logger     *slog.Logger

	httpServer *http.Server
	startedAt  time.Time
}

// Deps bundles the collaborators the server needs.
type Deps struct {
	Normalizer *normalize.Normalizer
	Pipeline   *pipeline.Pipeline
	Executor   *response.Executor
	Sink       audit.Sink
	Quarantine quarantine.Store
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry
	Logger     *slog.Logger
}

// NewServer creates the server and its middleware chain.
func NewServer(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        cfg,
		normalizer: deps.Normalizer,
		pipeline:   deps.Pipeline,
		executor:   deps.Executor,
		sink:       deps.Sink,
		quarantine: deps.Quarantine,
		metrics:    deps.Metrics,
		registry:   deps.Registry,
		limiter:    middleware.NewRateLimiter(cfg.RateLimit, logger),
		logger:     logger,
		startedAt:  time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// Handler builds the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/http", s.handleHTTPEvent)
	mux.HandleFunc("POST /v1/network", s.handleNetworkEvent)
	mux.HandleFunc("POST /v1/access", s.handleAccessEvent)
	mux.HandleFunc("GET /health", s.handleHealth)

	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	handler = middleware.RateLimit(s.limiter)(handler)
	handler = middleware.SecurityHeaders(s.cfg.SecurityHeaders)(handler)
	return handler
}

// Start begins serving. Blocks until the listener fails or closes.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops background helpers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}
