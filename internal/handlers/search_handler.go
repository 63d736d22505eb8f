// -----------------------------------------------------------------------
// Last Modified: Wednesday, 22nd July 2026 9:14:08 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/models"
)

// Every Nth accepted search gets a zero-width character appended to the
// prompt so submissions never form an exact repeating pattern
const noiseInterval = 10

const zeroWidthSpace = "​"

// SearchHandler handles the worker's search HTTP requests
type SearchHandler struct {
	identity    interfaces.IdentityService
	search      interfaces.SearchService
	history     interfaces.HistoryService
	coordinator interfaces.CoordinatorClient
	events      interfaces.EventService
	logger      arbor.ILogger

	accepted atomic.Int64
}

// NewSearchHandler creates a new search handler with dependencies
func NewSearchHandler(
	identityService interfaces.IdentityService,
	searchService interfaces.SearchService,
	historyService interfaces.HistoryService,
	coordinatorClient interfaces.CoordinatorClient,
	eventService interfaces.EventService,
	logger arbor.ILogger,
) *SearchHandler {
	return &SearchHandler{
		identity:    identityService,
		search:      searchService,
		history:     historyService,
		coordinator: coordinatorClient,
		events:      eventService,
		logger:      logger,
	}
}

// SearchHandler handles POST /search requests
func (h *SearchHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.SearchRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteJSON(w, http.StatusBadRequest, models.SearchResponse{OK: false, Error: err.Error()})
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		WriteJSON(w, http.StatusBadRequest, models.SearchResponse{OK: false, Error: "prompt is required"})
		return
	}

	release, err := h.identity.BeginSearch(r.Context())
	if err != nil {
		h.writeGateError(w, err)
		return
	}
	defer release()

	submitted := prompt
	if n := h.accepted.Add(1); n%noiseInterval == 0 {
		submitted += zeroWidthSpace
	}

	searchID := common.NewSearchID()
	h.logger.Info().
		Str("search_id", searchID).
		Int("prompt_length", len(prompt)).
		Msg("Search request accepted")
	h.publish(interfaces.EventSearchStarted, models.SearchEventPayload{SearchID: searchID})

	start := time.Now()
	result, err := h.search.Run(r.Context(), submitted)
	durationMs := time.Since(start).Milliseconds()

	h.identity.RecordSearch(r.Context())
	if h.coordinator != nil {
		common.SafeGo(h.logger, "coordinator-notify", func() {
			h.coordinator.NotifyRequest(context.Background())
		})
	}

	if err != nil {
		status, code := classifySearchError(err)
		h.logger.Warn().
			Str("search_id", searchID).
			Str("code", code).
			Int64("duration_ms", durationMs).
			Err(err).
			Msg("Search failed")

		h.publish(interfaces.EventSearchFailed, models.SearchEventPayload{
			SearchID:   searchID,
			DurationMs: durationMs,
			Error:      code,
		})
		h.record(searchID, prompt, code, err.Error(), result, durationMs)

		WriteJSON(w, status, models.SearchResponse{
			OK:         false,
			Result:     result,
			Error:      err.Error(),
			Code:       code,
			DurationMs: durationMs,
		})
		return
	}

	h.logger.Info().
		Str("search_id", searchID).
		Int64("duration_ms", durationMs).
		Int("answer_length", len(result.JSON)).
		Msg("Search completed")

	h.publish(interfaces.EventSearchCompleted, models.SearchEventPayload{
		SearchID:   searchID,
		DurationMs: durationMs,
	})
	h.record(searchID, prompt, models.RecordStatusOK, "", result, durationMs)

	WriteJSON(w, http.StatusOK, models.SearchResponse{
		OK:         true,
		Result:     result,
		DurationMs: durationMs,
	})
}

// writeGateError maps BeginSearch failures onto the structured error codes
func (h *SearchHandler) writeGateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrWorkerBusy):
		WriteJSON(w, http.StatusLocked, models.SearchResponse{
			OK: false, Error: "a search is already in progress", Code: models.ErrorCodeBusy,
		})
	case errors.Is(err, interfaces.ErrNotReady):
		WriteJSON(w, http.StatusServiceUnavailable, models.SearchResponse{
			OK: false, Error: "worker is still warming up", Code: models.ErrorCodeWarmingUp,
		})
	default:
		h.logger.Error().Err(err).Msg("Search gate failed")
		WriteJSON(w, http.StatusInternalServerError, models.SearchResponse{
			OK: false, Error: err.Error(), Code: models.ErrorCodeInternal,
		})
	}
}

// record writes the audit entry in the background so persistence never
// delays the response
func (h *SearchHandler) record(searchID, prompt, status, errText string, result *models.SearchResult, durationMs int64) {
	if h.history == nil {
		return
	}

	snap := h.identity.Snapshot()
	rec := &models.SearchRecord{
		ID:           searchID,
		Prompt:       prompt,
		Status:       status,
		Error:        errText,
		ProfileIndex: snap.ProfileIndex,
		ProxyIndex:   snap.ProxyIndex,
		DurationMs:   durationMs,
	}
	answerHTML := ""
	if result != nil {
		rec.AnswerJSON = string(result.JSON)
		rec.Attempts = result.Attempts
		answerHTML = result.HTML
	}

	common.SafeGo(h.logger, "history-record", func() {
		if err := h.history.Record(context.Background(), rec, answerHTML); err != nil {
			h.logger.Warn().Err(err).Str("search_id", searchID).Msg("Failed to record search")
		}
	})
}

func (h *SearchHandler) publish(eventType interfaces.EventType, payload models.SearchEventPayload) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		h.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Event publish failed")
	}
}

// classifySearchError maps terminal search errors onto HTTP status and
// the structured error code callers branch on
func classifySearchError(err error) (int, string) {
	switch {
	case errors.Is(err, interfaces.ErrBlockedByTarget):
		return http.StatusServiceUnavailable, models.ErrorCodeBlockedByGoogle
	case errors.Is(err, interfaces.ErrAnswerTimeout):
		return http.StatusGatewayTimeout, models.ErrorCodeTimeout
	case errors.Is(err, interfaces.ErrEmptyResult):
		return http.StatusUnprocessableEntity, models.ErrorCodeEmptyResult
	case errors.Is(err, interfaces.ErrProfilesExhausted):
		return http.StatusServiceUnavailable, models.ErrorCodeBlockedByGoogle
	default:
		return http.StatusInternalServerError, models.ErrorCodeInternal
	}
}
