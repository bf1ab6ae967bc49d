package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/models"
	"github.com/ternarybob/portalwatch/internal/storage/dedup"
)

const storesPrefix = "/api/stores/"

// RotateRequest is the body of POST /api/stores/{name}/rotate
type RotateRequest struct {
	MaxLiveRows int `json:"max_live_rows"`
}

// StoreHandler exposes the dedup stores
type StoreHandler struct {
	stores     dedup.Set
	archiveDir string
	logger     arbor.ILogger
}

// NewStoreHandler creates a new StoreHandler
func NewStoreHandler(stores dedup.Set, archiveDir string, logger arbor.ILogger) *StoreHandler {
	return &StoreHandler{
		stores:     stores,
		archiveDir: archiveDir,
		logger:     logger,
	}
}

// ListStoresHandler handles GET /api/stores
func (h *StoreHandler) ListStoresHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats := make([]dedup.Stats, 0, len(h.stores))
	for _, name := range h.stores.Names() {
		stats = append(stats, h.stores[name].Stats())
	}
	WriteJSON(w, http.StatusOK, stats)
}

func (h *StoreHandler) lookup(w http.ResponseWriter, r *http.Request) (*dedup.Store, bool) {
	store, err := h.stores.Get(PathParam(r.URL.Path, storesPrefix))
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return store, true
}

// GetStoreHandler handles GET /api/stores/{name}?since=<RFC3339>&limit=<n>.
// Entries are returned newest first.
func (h *StoreHandler) GetStoreHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	store, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}

	entries := store.ListSince(since)
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err := strconv.Atoi(s); err == nil && limit >= 0 && limit < len(entries) {
			entries = entries[:limit]
		}
	}

	WriteJSON(w, http.StatusOK, struct {
		Stats   dedup.Stats    `json:"stats"`
		Entries []models.Entry `json:"entries"`
	}{store.Stats(), entries})
}

// ResetStoreHandler handles POST /api/stores/{name}/reset
func (h *StoreHandler) ResetStoreHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	store, ok := h.lookup(w, r)
	if !ok {
		return
	}

	store.Reset()
	if err := store.Flush(); err != nil {
		h.logger.Warn().Err(err).Str("store", store.Name()).Msg("Failed to write reset store")
	}
	WriteSuccess(w, "Store "+store.Name()+" reset")
}

// RotateStoreHandler handles POST /api/stores/{name}/rotate
func (h *StoreHandler) RotateStoreHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	store, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req RotateRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MaxLiveRows < 0 {
		WriteError(w, http.StatusBadRequest, "max_live_rows must not be negative")
		return
	}

	archived, err := store.Rotate(req.MaxLiveRows, h.archiveDir)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"store":    store.Name(),
		"archived": archived,
		"live":     store.Len(),
	})
}

// StoreRoutes dispatches /api/stores/{name}[/reset|/rotate]
func (h *StoreHandler) StoreRoutes(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/reset"):
		h.ResetStoreHandler(w, r)
	case strings.HasSuffix(r.URL.Path, "/rotate"):
		h.RotateStoreHandler(w, r)
	case strings.Count(strings.TrimPrefix(r.URL.Path, storesPrefix), "/") == 0:
		h.GetStoreHandler(w, r)
	default:
		WriteError(w, http.StatusNotFound, "unknown store route")
	}
}
