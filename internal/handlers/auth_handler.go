package handlers

import (
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/interfaces"
	"github.com/ternarybob/portalwatch/internal/models"
)

// UnlockRequest is the body of POST /api/unlock
type UnlockRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthHandler handles the lock-screen credential check
type AuthHandler struct {
	verifier CredentialVerifier
	sink     interfaces.EventSink
	logger   arbor.ILogger
}

// NewAuthHandler creates a new AuthHandler. sink may be nil.
func NewAuthHandler(verifier CredentialVerifier, sink interfaces.EventSink, logger arbor.ILogger) *AuthHandler {
	return &AuthHandler{
		verifier: verifier,
		sink:     sink,
		logger:   logger,
	}
}

// UnlockHandler handles POST /api/unlock. A wrong credential is 401, a locked
// identifier is 429 with retry_after_ms and a Retry-After header.
func (h *AuthHandler) UnlockHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req UnlockRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := h.verifier.Verify(req.Username, req.Password)
	if res.OK {
		WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
		return
	}

	retryMs := res.RetryAfter.Milliseconds()
	if h.sink != nil {
		h.sink.Emit(r.Context(), models.Event{
			Type:     models.EventUnlockDenied,
			Source:   "unlock",
			Severity: models.SeverityWarn,
			Message:  "Unlock denied",
			Fields: map[string]string{
				"remote": ClientIP(r),
				"locked": strconv.FormatBool(res.Locked),
			},
		})
	}

	if res.Locked {
		// Whole seconds, rounded up
		w.Header().Set("Retry-After", strconv.FormatInt((retryMs+999)/1000, 10))
		WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"ok":             false,
			"locked":         true,
			"retry_after_ms": retryMs,
		})
		return
	}

	WriteJSON(w, http.StatusUnauthorized, map[string]interface{}{
		"ok":     false,
		"locked": false,
	})
}
