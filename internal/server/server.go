package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/quaesitor/internal/app"
)

// Server manages the worker HTTP listeners: the main API server and an
// optional health listener that stays responsive while a search drives
// the browser.
type Server struct {
	app          *app.App
	router       *http.ServeMux
	server       *http.Server
	healthServer *http.Server
}

// New creates the HTTP server for the given app
func New(application *app.App) *Server {
	s := &Server{
		app: application,
	}

	s.router = s.setupRoutes()

	// The write timeout outlasts the full three-attempt search protocol
	// so a slow answer never truncates the response.
	addr := fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withConditionalMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	if application.Config.Server.HealthPort > 0 {
		s.healthServer = s.newHealthServer()
	}

	return s
}

// Start starts the HTTP listeners. Blocks until the main server exits.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.app.Config.Server.Host, s.app.Config.Server.Port)

	s.app.Logger.Info().
		Str("address", addr).
		Msg("HTTP server starting")

	if s.healthServer != nil {
		s.startHealthListener()
	}

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down both listeners
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server...")

	if s.healthServer != nil {
		if err := s.healthServer.Shutdown(ctx); err != nil {
			s.app.Logger.Warn().Err(err).Msg("Health listener shutdown failed")
		}
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
