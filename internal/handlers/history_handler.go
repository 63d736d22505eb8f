package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/interfaces"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// HistoryHandler serves the worker's search audit trail
type HistoryHandler struct {
	history interfaces.HistoryService
	logger  arbor.ILogger
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(historyService interfaces.HistoryService, logger arbor.ILogger) *HistoryHandler {
	return &HistoryHandler{
		history: historyService,
		logger:  logger,
	}
}

// SearchesHandler handles GET /searches?limit=N requests, newest first
func (h *HistoryHandler) SearchesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := QueryInt(r, "limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list search records")
		WriteError(w, http.StatusInternalServerError, "Failed to list search records")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"searches": records,
		"count":    len(records),
		"limit":    limit,
	})
}
