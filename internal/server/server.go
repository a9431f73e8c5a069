// Package server exposes the node's HTTP surface: the public KV API,
// the internal peer endpoints, health checks and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/driftdb/driftdb/internal/health"
)

// Config tunes the HTTP server.
type Config struct {
	Port             int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Port:         7070,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the node's HTTP server.
type Server struct {
	cfg        Config
	router     *mux.Router
	httpServer *http.Server
	handlers   *Handlers
	health     *health.Health
	registry   *prometheus.Registry
	logger     *zap.Logger
}

// New builds the server and its route table.
func New(cfg Config, handlers *Handlers, h *health.Health, registry *prometheus.Registry, logger *zap.Logger) *Server {
	router := mux.NewRouter()
	s := &Server{
		cfg:      cfg,
		router:   router,
		handlers: handlers,
		health:   h,
		registry: registry,
		logger:   logger,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(Recovery(s.logger))
	s.router.Use(RequestID)
	s.router.Use(Logging(s.logger))
	if s.cfg.RateLimitEnabled {
		s.router.Use(RateLimit(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst, s.logger))
	}

	s.router.HandleFunc("/health", s.health.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.health.ReadinessHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/kv/{key}", s.handlers.PutKey).Methods(http.MethodPut)
	v1.HandleFunc("/kv/{key}", s.handlers.GetKey).Methods(http.MethodGet)
	v1.HandleFunc("/kv/{key}", s.handlers.DeleteKey).Methods(http.MethodDelete)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/members", s.handlers.ListMembers).Methods(http.MethodGet)
	admin.HandleFunc("/members", s.handlers.AddMember).Methods(http.MethodPost)
	admin.HandleFunc("/members/{node_id}", s.handlers.RemoveMember).Methods(http.MethodDelete)

	internal := s.router.PathPrefix("/internal/v1").Subrouter()
	internal.HandleFunc("/replica/{key}", s.handlers.WriteReplica).Methods(http.MethodPost)
	internal.HandleFunc("/replica/{key}", s.handlers.ReadReplica).Methods(http.MethodGet)
	internal.HandleFunc("/gossip", s.handlers.Gossip).Methods(http.MethodPost)
	internal.HandleFunc("/merkle/digest", s.handlers.MerkleDigest).Methods(http.MethodPost)
	internal.HandleFunc("/range/scan", s.handlers.ScanRange).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"invalid_argument","message":"endpoint not found"}}`))
	})
}

// Router exposes the route table for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start begins serving; it blocks until the listener stops.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.Int("port", s.cfg.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
