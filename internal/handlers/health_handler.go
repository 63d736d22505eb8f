package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/interfaces"
)

// HealthHandler serves the worker's non-blocking health and status
// projections. Reads only the identity snapshot; never touches the
// search gate, so it answers instantly while a search is in flight.
type HealthHandler struct {
	identity  interfaces.IdentityService
	history   interfaces.HistoryService
	logger    arbor.ILogger
	startedAt time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(identityService interfaces.IdentityService, historyService interfaces.HistoryService, logger arbor.ILogger) *HealthHandler {
	return &HealthHandler{
		identity:  identityService,
		history:   historyService,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// HealthHandler handles GET /health requests
func (h *HealthHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	snap := h.identity.Snapshot()
	body := map[string]interface{}{
		"status":    "ok",
		"service":   "quaesitor",
		"version":   common.GetVersion(),
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"worker_id": snap.WorkerID,
		"identity":  snap,
	}

	if h.history != nil {
		if count, err := h.history.Count(r.Context()); err == nil {
			body["searches_recorded"] = count
		}
	}

	WriteJSON(w, http.StatusOK, body)
}
