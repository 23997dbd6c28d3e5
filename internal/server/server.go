// Package server exposes the admin HTTP endpoint: health probes, Prometheus
// metrics and the recent-alarm view backed by the audit store.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"alarmgate/internal/config"
	"alarmgate/internal/store"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	srv     *http.Server
	handler *Handler
}

// New creates a new server instance. st may be nil when the audit store is
// disabled; the alarms endpoint then reports unavailable.
func New(cfg *config.Config, st *store.Store) *Server {
	handler := NewHandler(cfg, st)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		cfg:     cfg,
		srv:     srv,
		handler: handler,
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Admin server listening on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() {
	log.Println("Shutting down admin server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		log.Printf("Admin server shutdown error: %v", err)
	}
}
