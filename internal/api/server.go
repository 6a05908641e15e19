// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pbt-oracle/internal/batch"
	"github.com/pbt-oracle/internal/circuitbreaker"
	"github.com/pbt-oracle/internal/logging"
	"github.com/pbt-oracle/internal/types"
)

// Service interfaces for dependency injection and testing

// RecordProcessor computes one mode's results for a record
type RecordProcessor interface {
	Process(ctx context.Context, mode batch.Mode, rec *batch.Record) (types.Status, error)
}

// RunReader reads the persisted run ledger
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*types.RunSummary, error)
	ListRecords(ctx context.Context, runID string) ([]types.RunRecord, error)
}

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	processor  RecordProcessor
	runs       RunReader
	breaker    *circuitbreaker.CircuitBreaker
	checks     map[string]HealthCheck
	metrics    http.Handler
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration // proofs can take minutes
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerMinute int // per client; 0 disables limiting
	Burst             int
}

// Option configures optional server dependencies
type Option func(*Server)

// WithRunReader exposes the run ledger under /api/runs
func WithRunReader(runs RunReader) Option {
	return func(s *Server) { s.runs = runs }
}

// WithBreaker reports the prover circuit breaker on /health
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(s *Server) { s.breaker = cb }
}

// WithHealthCheck adds a named dependency probe to /health
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithMetrics serves h on /metrics
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, processor RecordProcessor, opts ...Option) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		processor: processor,
		checks:    make(map[string]HealthCheck),
		config:    config,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Set up middleware (order matters!)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	if s.config.RequestsPerMinute > 0 {
		rateLimiter := NewRateLimiter(s.config.RequestsPerMinute, s.config.Burst)
		s.router.Use(RateLimitMiddleware(rateLimiter))
	}
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/pbt", s.handleMode(batch.ModePBT)).Methods("POST", "OPTIONS")
	api.HandleFunc("/tests", s.handleMode(batch.ModeTests)).Methods("POST", "OPTIONS")
	api.HandleFunc("/verify", s.handleMode(batch.ModeVerify)).Methods("POST", "OPTIONS")
	api.HandleFunc("/examples", s.handleMode(batch.ModeExamples)).Methods("POST", "OPTIONS")

	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods("GET")
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Infof("Starting API server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports process liveness plus the state of each dependency.
// Any failed probe turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]interface{}{
		"status":       status,
		"time":         time.Now().UTC(),
		"dependencies": deps,
	}
	if s.breaker != nil {
		body["prover"] = s.breaker.GetStats()
	}
	respondJSON(w, code, body)
}
