package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/portalwatch/internal/common"
)

// APIHandler serves the process-level endpoints
type APIHandler struct {
	startedAt time.Time
}

func NewAPIHandler() *APIHandler {
	return &APIHandler{startedAt: time.Now()}
}

// VersionHandler handles GET /api/version
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, common.CurrentVersion())
}

// HealthHandler handles GET /api/health. It only says the HTTP server is up;
// portal health is part of /api/status.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"uptime_s":         int64(time.Since(h.startedAt).Seconds()),
		"recovered_panics": common.PanicCount(),
	})
}

// NotFoundHandler answers unmatched /api/ paths
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "no such endpoint: "+r.URL.Path)
}
