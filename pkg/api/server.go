// Package api exposes canvasrunner over HTTP: canvas management, batch
// execution and real-time task streaming.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tcmartin/canvasrunner/pkg/api/middleware"
	"github.com/tcmartin/canvasrunner/pkg/config"
	"github.com/tcmartin/canvasrunner/pkg/loader"
	"github.com/tcmartin/canvasrunner/pkg/logging"
	"github.com/tcmartin/canvasrunner/pkg/scheduler"
	"github.com/tcmartin/canvasrunner/pkg/storage"
)

// Server represents the HTTP API server
type Server struct {
	config    *config.Config
	router    *mux.Router
	server    *http.Server
	provider  storage.StorageProvider
	scheduler *scheduler.Scheduler
	loader    loader.CanvasLoader
	hub       *EventHub
	logger    logging.Logger
}

// NewServer creates a new API server. The hub should also be registered as
// the scheduler's observer so streamed events reflect live executions.
func NewServer(
	cfg *config.Config,
	provider storage.StorageProvider,
	sched *scheduler.Scheduler,
	canvasLoader loader.CanvasLoader,
	hub *EventHub,
	logger logging.Logger,
) *Server {
	s := &Server{
		config:    cfg,
		router:    mux.NewRouter(),
		provider:  provider,
		scheduler: sched,
		loader:    canvasLoader,
		hub:       hub,
		logger:    logger,
	}

	s.setupRoutes()
	return s
}

// Router returns the configured handler, mainly for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", logging.F("addr", addr))

	var err error
	if s.config.Server.TLS.Enabled {
		err = s.server.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	} else {
		err = s.server.ListenAndServe()
	}

	// If the server was shut down gracefully, this error is expected
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)

	// Canvas routes
	canvases := api.PathPrefix("/canvases").Subrouter()
	canvases.HandleFunc("", s.handleListCanvases).Methods(http.MethodGet, http.MethodOptions)
	canvases.HandleFunc("", s.handleCreateCanvas).Methods(http.MethodPost, http.MethodOptions)
	canvases.HandleFunc("/{id}", s.handleGetCanvas).Methods(http.MethodGet, http.MethodOptions)
	canvases.HandleFunc("/{id}", s.handleDeleteCanvas).Methods(http.MethodDelete, http.MethodOptions)
	canvases.HandleFunc("/{id}/execute", s.handleExecuteCanvas).Methods(http.MethodPost, http.MethodOptions)

	// Batch routes
	batches := api.PathPrefix("/batches").Subrouter()
	batches.HandleFunc("/{id}", s.handleGetBatch).Methods(http.MethodGet, http.MethodOptions)
	batches.HandleFunc("/{id}/tasks", s.handleListBatchTasks).Methods(http.MethodGet, http.MethodOptions)
	batches.HandleFunc("/{id}/events", s.handleBatchEvents).Methods(http.MethodGet, http.MethodOptions)

	// WebSocket endpoint for multi-batch subscriptions
	api.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	// CORS middleware for all routes
	s.router.Use(middleware.CORS)
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleWebSocket upgrades the connection and serves batch subscriptions
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWebSocket(w, r)
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
