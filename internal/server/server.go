// Package server provides the HTTP API of the semantic cache index.
package server

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/config"
	"github.com/hyperjump/semcache/internal/coordinator"
	"github.com/hyperjump/semcache/internal/rebuild"
)

// Server is the HTTP server for the index API.
type Server struct {
	coord     *coordinator.Coordinator
	scheduler *rebuild.Scheduler
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server

	threshold atomic.Uint64 // math.Float64bits of the default distance threshold
}

// NewServer creates a server. scheduler receives a request after every
// successful add; it may be nil when rebuilds are driven some other way.
func NewServer(
	coord *coordinator.Coordinator,
	scheduler *rebuild.Scheduler,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		coord:     coord,
		scheduler: scheduler,
		config:    cfg,
		logger:    logger,
	}
	s.SetDefaultThreshold(cfg.Query.DefaultThreshold())
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: s.Handler(),
	}
	return s
}

// SetDefaultThreshold changes the threshold used by queries that omit one.
func (s *Server) SetDefaultThreshold(t float64) {
	s.threshold.Store(math.Float64bits(t))
}

// DefaultThreshold returns the threshold used by queries that omit one.
func (s *Server) DefaultThreshold() float64 {
	return math.Float64frombits(s.threshold.Load())
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}
	r.Use(middleware.Compress(5))

	r.Post("/addIndex", s.handleAdd)
	r.Post("/queryIndex", s.handleQuery)
	r.Post("/rebuild", s.handleRebuild)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops. After Stop it
// returns http.ErrServerClosed, even if Stop ran first.
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
