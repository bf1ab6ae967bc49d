package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/models"
	"github.com/ternarybob/portalwatch/internal/storage/dedup"
)

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	Version         common.VersionInfo     `json:"version"`
	Cycle           models.CycleState      `json:"cycle"`
	Health          models.HealthSnapshot  `json:"health"`
	Daily           *DailyStatus           `json:"daily,omitempty"`
	Stores          map[string]dedup.Stats `json:"stores"`
	RecoveredPanics int64                  `json:"recovered_panics"`
}

// DailyStatus is the daily scheduler part of the status
type DailyStatus struct {
	Slots []string             `json:"slots"`
	State models.DailyRunState `json:"state"`
}

// StatusHandler handles HTTP requests for application status
type StatusHandler struct {
	cycle  CycleController
	health HealthReporter
	daily  DailyRunner
	stores dedup.Set
	logger arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler. daily may be nil.
func NewStatusHandler(cycle CycleController, health HealthReporter, daily DailyRunner, stores dedup.Set, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		cycle:  cycle,
		health: health,
		daily:  daily,
		stores: stores,
		logger: logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	resp := StatusResponse{
		Version:         common.CurrentVersion(),
		Cycle:           h.cycle.GetState(),
		Health:          h.health.Snapshot(),
		Stores:          make(map[string]dedup.Stats, len(h.stores)),
		RecoveredPanics: common.PanicCount(),
	}
	if h.daily != nil {
		resp.Daily = &DailyStatus{Slots: h.daily.Slots(), State: h.daily.State()}
	}
	for _, name := range h.stores.Names() {
		resp.Stores[name] = h.stores[name].Stats()
	}

	WriteJSON(w, http.StatusOK, resp)
}
