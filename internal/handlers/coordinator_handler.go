// -----------------------------------------------------------------------
// Last Modified: Wednesday, 22nd July 2026 10:02:51 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/models"
)

// CoordinatorHandler exposes the fleet rotation service over HTTP.
// Workers post here after every search; operators read the projections.
type CoordinatorHandler struct {
	service   interfaces.CoordinatorService
	logger    arbor.ILogger
	startedAt time.Time
}

// NewCoordinatorHandler creates a new coordinator handler
func NewCoordinatorHandler(service interfaces.CoordinatorService, logger arbor.ILogger) *CoordinatorHandler {
	return &CoordinatorHandler{
		service:   service,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// HealthHandler handles GET /health requests
func (h *CoordinatorHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "quaesitor-coordinator",
		"version": common.GetVersion(),
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// StatusHandler handles GET /status requests
func (h *CoordinatorHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status, err := h.service.Status(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read coordinator status")
		WriteError(w, http.StatusInternalServerError, "Failed to read status")
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// CurrentProxyHandler handles GET /current-proxy requests
func (h *CoordinatorHandler) CurrentProxyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	info, err := h.service.CurrentProxy(r.Context())
	if err != nil {
		if errors.Is(err, interfaces.ErrNoProxies) {
			WriteError(w, http.StatusConflict, "no proxy endpoints configured")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to resolve current proxy")
		WriteError(w, http.StatusInternalServerError, "Failed to resolve current proxy")
		return
	}
	WriteJSON(w, http.StatusOK, info)
}

// IncrementRequestHandler handles POST /increment-request requests.
// Bumps the shared counter; rotation fires exactly when the count
// reaches the configured threshold.
func (h *CoordinatorHandler) IncrementRequestHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	result, err := h.service.IncrementRequest(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to increment request count")
		WriteError(w, http.StatusInternalServerError, "Failed to increment request count")
		return
	}

	if result.Rotated {
		h.logger.Info().
			Int64("count", result.Count).
			Int("new_slot", result.ProxyIndex).
			Msg("Request threshold reached, fleet rotated")
	}
	WriteJSON(w, http.StatusOK, result)
}

// BlockProxyHandler handles POST /block-proxy requests from workers
// that hit a proxy-level block symptom
func (h *CoordinatorHandler) BlockProxyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.BlockProxyRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.BlockProxy(r.Context(), req.ProxyIndex, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrSlotOutOfRange):
			WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, interfaces.ErrNoProxies):
			WriteError(w, http.StatusConflict, "no proxy endpoints configured")
		default:
			h.logger.Error().Err(err).Int("slot", req.ProxyIndex).Msg("Failed to block proxy")
			WriteError(w, http.StatusInternalServerError, "Failed to block proxy")
		}
		return
	}

	h.logger.Info().
		Int("slot", req.ProxyIndex).
		Str("reason", req.Reason).
		Str("worker", req.Worker).
		Bool("rotated", result.Rotated).
		Msg("Proxy slot blocked")
	WriteJSON(w, http.StatusOK, result)
}

// RotateProxyHandler handles POST /rotate-proxy requests: an
// unconditional advance of the fleet's shared slot plus fan-out
func (h *CoordinatorHandler) RotateProxyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.RotateProxyRequest
	if err := DecodeJSON(r, &req); err != nil {
		req.Reason = ""
	}
	reason := req.Reason
	if reason == "" {
		reason = models.RotationReasonManual
	}

	result, err := h.service.RotateProxy(r.Context(), reason)
	if err != nil {
		if errors.Is(err, interfaces.ErrNoProxies) {
			WriteError(w, http.StatusConflict, "no proxy endpoints configured")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to rotate proxy")
		WriteError(w, http.StatusInternalServerError, "Failed to rotate proxy")
		return
	}

	h.logger.Info().
		Int("previous", result.PreviousIndex).
		Int("new", result.NewIndex).
		Str("reason", reason).
		Msg("Fleet proxy rotated")
	WriteJSON(w, http.StatusOK, result)
}
