// Package server exposes the portalwatch command surface over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/portalwatch/internal/app"
)

// Server owns the HTTP listener for one App
type Server struct {
	app    *app.App
	server *http.Server
}

// New builds the route table and middleware for application
func New(application *app.App) *Server {
	s := &Server{app: application}

	cfg := application.Config.Server
	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.withMiddleware(s.setupRoutes()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// POST /api/cycle/run and /api/daily/run block until the pass or digest finishes
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens and serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	s.app.Logger.Info().Str("address", ln.Addr().String()).Msg("HTTP server listening")

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx expires
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
