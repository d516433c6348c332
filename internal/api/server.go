// Package api provides the HTTP REST API for netscope. It exposes
// diagnostics, discovery and service scan runs, their event streams and
// Wake-on-LAN.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apihandlers "github.com/anstrom/netscope/internal/api/handlers"
	"github.com/anstrom/netscope/internal/api/middleware"
	"github.com/anstrom/netscope/internal/config"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/metrics"
	"github.com/anstrom/netscope/internal/runs"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	readHeaderTimeout     = 10 * time.Second
	idleTimeout           = 60 * time.Second
	limiterCleanupPeriod  = time.Minute
)

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	handlers   *apihandlers.HandlerManager
	runs       *runs.Manager
	limiter    *middleware.RateLimiter
	metrics    *metrics.PrometheusMetrics
	logger     *slog.Logger
}

// Option customizes a Server.
type Option func(*apihandlers.Options)

// WithWakeSender replaces the Wake-on-LAN transmitter.
func WithWakeSender(send apihandlers.WakeSender) Option {
	return func(o *apihandlers.Options) { o.WakeSender = send }
}

// New creates a new API server instance. Runs started through the API are
// owned by manager and executed by factory.
func New(cfg *config.Config, manager *runs.Manager, factory apihandlers.RunFactory, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if manager == nil || factory == nil {
		return nil, fmt.Errorf("run manager and factory are required")
	}

	logger := logging.Default().WithComponent("api").Logger

	hopts := apihandlers.Options{
		Catalog:        cfg.ServicesConfig().Catalog,
		MaxCandidates:  cfg.Scan.MaxCandidates,
		MaxRequestSize: cfg.API.MaxRequestSize,
	}
	for _, opt := range opts {
		opt(&hopts)
	}

	server := &Server{
		router:   mux.NewRouter(),
		config:   cfg,
		handlers: apihandlers.New(manager, factory, logger, hopts),
		runs:     manager,
		metrics:  metrics.GetGlobalMetrics(),
		logger:   logger,
	}
	if cfg.API.RateLimit.Enabled {
		server.limiter = middleware.NewRateLimiter(cfg.API.RateLimit.RequestsPerSecond, cfg.API.RateLimit.Burst)
	}

	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:              cfg.GetAPIAddress(),
		Handler:           server.setupMiddleware(server.router),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       cfg.API.RequestTimeout,
		WriteTimeout:      cfg.API.RequestTimeout,
		IdleTimeout:       idleTimeout,
	}

	return server, nil
}

// Start serves until ctx is canceled or the listener fails. On cancel it
// stops the server and the run manager.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logger.Info("Starting API server",
		"address", listener.Addr().String(),
		"request_timeout", s.config.API.RequestTimeout)

	if s.limiter != nil {
		go s.cleanupLimiter(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server, then cancels outstanding runs.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
	}
	if err := s.runs.Shutdown(ctx); err != nil {
		s.logger.Error("Run manager shutdown error", "error", err)
		errs = append(errs, fmt.Errorf("run shutdown failed: %w", err))
	}
	if len(errs) > 0 {
		return stderrors.Join(errs...)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

func (s *Server) cleanupLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.limiter.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	hm := s.handlers
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", hm.Health).Methods(http.MethodGet)
	api.HandleFunc("/version", hm.Version).Methods(http.MethodGet)
	api.HandleFunc("/services", hm.Services).Methods(http.MethodGet)

	api.HandleFunc("/diagnostics", hm.StartDiagnostics).Methods(http.MethodPost)
	api.HandleFunc("/discovery", hm.StartDiscovery).Methods(http.MethodPost)
	api.HandleFunc("/scans", hm.StartScan).Methods(http.MethodPost)

	api.HandleFunc("/runs", hm.ListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", hm.GetRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", hm.CancelRun).Methods(http.MethodDelete)
	api.HandleFunc("/runs/{id}/events", hm.RunEvents).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/ws", hm.RunWebSocket).Methods(http.MethodGet)

	api.HandleFunc("/wake", hm.Wake).Methods(http.MethodPost)

	if s.config.Metrics.Enabled {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle(path, promhttp.HandlerFor(s.metrics.GetRegistry(), promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	s.router.HandleFunc("/", s.index).Methods(http.MethodGet)
}

// setupMiddleware wraps the router. Router-level middleware only runs for
// matched routes, so CORS wraps the whole router to answer preflights.
func (s *Server) setupMiddleware(router *mux.Router) http.Handler {
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(s.logger))
	if s.config.Logging.RequestLogging {
		router.Use(middleware.Logging(s.logger))
	}
	router.Use(middleware.Metrics(s.metrics))
	router.Use(middleware.SecurityHeaders())
	if s.limiter != nil {
		router.Use(middleware.RateLimit(s.limiter, s.logger))
	}
	router.Use(middleware.ContentType())

	if !s.config.API.CORS.Enabled {
		return router
	}
	corsOptions := handlers.AllowedOrigins(s.config.API.CORS.AllowedOrigins)
	corsHeaders := handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"})
	corsMethods := handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions})
	return handlers.CORS(corsOptions, corsHeaders, corsMethods)(router)
}

// index lists the main endpoints.
func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	endpoints := map[string]string{
		"health":      "/api/v1/health",
		"version":     "/api/v1/version",
		"services":    "/api/v1/services",
		"diagnostics": "/api/v1/diagnostics",
		"discovery":   "/api/v1/discovery",
		"scans":       "/api/v1/scans",
		"runs":        "/api/v1/runs",
		"wake":        "/api/v1/wake",
	}
	if s.config.Metrics.Enabled {
		endpoints["metrics"] = s.config.Metrics.Path
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"service":   "netscope",
		"version":   "v1",
		"endpoints": endpoints,
		"timestamp": time.Now().UTC(),
	})
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}
