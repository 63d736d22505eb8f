// -----------------------------------------------------------------------
// Last Modified: Wednesday, 22nd July 2026 9:14:08 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/models"
)

// RotateHandler handles identity and proxy rotation requests
type RotateHandler struct {
	identity interfaces.IdentityService
	logger   arbor.ILogger
}

// NewRotateHandler creates a new rotate handler
func NewRotateHandler(identityService interfaces.IdentityService, logger arbor.ILogger) *RotateHandler {
	return &RotateHandler{
		identity: identityService,
		logger:   logger,
	}
}

// RotateProxyHandler handles POST /rotate-proxy requests from the
// coordinator's fan-out. Rotates immediately when the worker is idle,
// otherwise acknowledges with deferred=true and applies the rotation
// before the next search.
func (h *RotateHandler) RotateProxyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.RotateProxyRequest
	if err := DecodeJSON(r, &req); err != nil {
		// The fan-out may post an empty body; treat it as a bare rotate
		req.Reason = ""
	}
	reason := req.Reason
	if reason == "" {
		reason = models.RotationReasonCoordinator
	}

	deferred, err := h.identity.RequestProxyRotation(r.Context(), reason)
	if err != nil {
		h.logger.Error().Err(err).Str("reason", reason).Msg("Proxy rotation failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info().
		Str("reason", reason).
		Bool("deferred", deferred).
		Msg("Proxy rotation request handled")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"deferred": deferred,
		"reason":   reason,
	})
}

// SessionRefreshHandler handles POST /session/refresh requests. Builds a
// fresh identity on the next profile; rejected with 423 while a search
// holds the gate.
func (h *RotateHandler) SessionRefreshHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	h.refreshIdentity(w, r, models.RotationReasonManual)
}

// BrowserRestartHandler handles POST /browser/restart requests. Same
// rotation path as a session refresh; exists so operators can name what
// they mean.
func (h *RotateHandler) BrowserRestartHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	h.refreshIdentity(w, r, models.RotationReasonManual)
}

func (h *RotateHandler) refreshIdentity(w http.ResponseWriter, r *http.Request, reason string) {
	if err := h.identity.RefreshSession(r.Context(), reason); err != nil {
		if errors.Is(err, interfaces.ErrWorkerBusy) {
			WriteJSON(w, http.StatusLocked, map[string]interface{}{
				"ok":    false,
				"error": "a search is in progress, try again when it completes",
				"code":  models.ErrorCodeBusy,
			})
			return
		}
		h.logger.Error().Err(err).Msg("Session refresh failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	snap := h.identity.Snapshot()
	h.logger.Info().
		Int("profile_index", snap.ProfileIndex).
		Int("proxy_index", snap.ProxyIndex).
		Msg("Session refreshed")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":            true,
		"profile_index": snap.ProfileIndex,
		"proxy_index":   snap.ProxyIndex,
	})
}
