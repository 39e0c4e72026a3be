// -----------------------------------------------------------------------
// Admin Server - HTTP status/control surface over the pipeline manager
// -----------------------------------------------------------------------

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/interfaces"
	"github.com/ternarybob/sitesearch/internal/manager"
)

// Server exposes health, system status, task control, worker scaling and
// search over HTTP, plus a websocket status feed.
type Server struct {
	mgr     *manager.Manager
	store   interfaces.DocumentStorage
	factory interfaces.IndexerFactory
	cfg     *common.Config
	logger  arbor.ILogger

	router *http.ServeMux
	server *http.Server
	ws     *statusFeed
}

// New creates the admin server
func New(mgr *manager.Manager, store interfaces.DocumentStorage, factory interfaces.IndexerFactory, cfg *common.Config, logger arbor.ILogger) *Server {
	s := &Server{
		mgr:     mgr,
		store:   store,
		factory: factory,
		cfg:     cfg,
		logger:  logger,
	}
	s.ws = newStatusFeed(mgr, logger)
	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/api/status", s.statusHandler)
	mux.HandleFunc("/api/tasks", s.tasksHandler)
	mux.HandleFunc("/api/tasks/", s.taskRoutes)
	mux.HandleFunc("/api/workers/adjust", s.adjustWorkersHandler)
	mux.HandleFunc("/api/search", s.searchHandler)
	mux.HandleFunc("/api/documents/search", s.documentSearchHandler)

	mux.HandleFunc("/ws/status", s.ws.handle)

	return mux
}

// Start runs the listener; it blocks until shutdown
func (s *Server) Start(ctx context.Context) error {
	s.ws.start(ctx)

	s.logger.Info().
		Str("address", s.server.Addr).
		Msg("Admin server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server failed: %w", err)
	}
	return nil
}

// Shutdown stops the listener and disconnects websocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.ws.stop()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("Admin server stopped")
	return nil
}
