// -----------------------------------------------------------------------
// Last Modified: Wednesday, 22nd July 2026 10:02:51 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes. The surface is deliberately
// flat: one search endpoint, the rotation control endpoints the
// coordinator calls, and read-only status routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Search
	mux.HandleFunc("/search", s.app.SearchHandler.SearchHandler) // POST - run one search

	// Rotation control (called by the coordinator and by operators)
	mux.HandleFunc("/rotate-proxy", s.app.RotateHandler.RotateProxyHandler)       // POST - immediate or deferred proxy rotation
	mux.HandleFunc("/session/refresh", s.app.RotateHandler.SessionRefreshHandler) // POST - rebuild the full identity
	mux.HandleFunc("/browser/restart", s.app.RotateHandler.BrowserRestartHandler) // POST - restart the browser session

	// Status
	mux.HandleFunc("/health", s.app.HealthHandler.HealthHandler)      // GET - worker status and identity snapshot
	mux.HandleFunc("/searches", s.app.HistoryHandler.SearchesHandler) // GET - recent audit records

	// Event stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	return mux
}
