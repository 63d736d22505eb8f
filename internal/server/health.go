package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/quaesitor/internal/common"
)

// newHealthServer builds the secondary health listener. It serves only
// /health and never touches the search gate, so fleet monitors get an
// answer even while the main listener is busy driving a search.
func (s *Server) newHealthServer() *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.app.HealthHandler.HealthHandler)

	addr := fmt.Sprintf("%s:%d", s.app.Config.Server.Host, s.app.Config.Server.HealthPort)
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// startHealthListener runs the health listener in the background. A bind
// failure is logged, not fatal: the main listener still serves /health.
func (s *Server) startHealthListener() {
	common.SafeGo(s.app.Logger, "health-listener", func() {
		s.app.Logger.Info().
			Str("address", s.healthServer.Addr).
			Msg("Health listener starting")

		if err := s.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.app.Logger.Warn().Err(err).Msg("Health listener failed")
		}
	})
}
