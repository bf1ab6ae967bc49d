package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/services/scheduler"
)

// EnableRequest is the body of POST /api/cycle/enable. Zero keeps the
// configured default interval.
type EnableRequest struct {
	IntervalMs int64 `json:"interval_ms"`
}

// DisableRequest is the body of POST /api/cycle/disable
type DisableRequest struct {
	Reason string `json:"reason"`
}

// DailyRunRequest is the body of POST /api/daily/run
type DailyRunRequest struct {
	Slot string `json:"slot"`
}

// SchedulerHandler handles the cycle and daily scheduler endpoints
type SchedulerHandler struct {
	cycle           CycleController
	daily           DailyRunner
	defaultInterval time.Duration
	logger          arbor.ILogger
}

// NewSchedulerHandler creates a new scheduler handler. daily may be nil.
func NewSchedulerHandler(cycle CycleController, daily DailyRunner, defaultInterval time.Duration, logger arbor.ILogger) *SchedulerHandler {
	return &SchedulerHandler{
		cycle:           cycle,
		daily:           daily,
		defaultInterval: defaultInterval,
		logger:          logger,
	}
}

// GetCycleHandler handles GET /api/cycle
func (h *SchedulerHandler) GetCycleHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.cycle.GetState())
}

// EnableHandler handles POST /api/cycle/enable. Out-of-range intervals are clamped.
func (h *SchedulerHandler) EnableHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req EnableRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	interval := h.defaultInterval
	if req.IntervalMs > 0 {
		interval = time.Duration(req.IntervalMs) * time.Millisecond
	}

	state := h.cycle.Enable(interval)
	h.logger.Info().Int64("interval_ms", state.IntervalMs).Msg("Cycle scheduler enabled via API")
	WriteJSON(w, http.StatusOK, state)
}

// DisableHandler handles POST /api/cycle/disable
func (h *SchedulerHandler) DisableHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req DisableRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "api"
	}

	WriteJSON(w, http.StatusOK, h.cycle.Disable(req.Reason))
}

// TriggerCycleHandler handles POST /api/cycle/run. A request arriving while a
// pass is in flight waits for and returns that pass.
func (h *SchedulerHandler) TriggerCycleHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	out := h.cycle.Trigger(r.Context())
	resp := map[string]interface{}{
		"cycle_id":  out.CycleID,
		"items":     len(out.Items),
		"not_ready": out.NotReady,
		"skipped":   out.Skipped,
	}
	if out.Reason != "" {
		resp["reason"] = out.Reason
	}
	if out.Err != nil {
		resp["error"] = out.Err.Error()
		WriteJSON(w, http.StatusBadGateway, resp)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// RunDailyHandler handles POST /api/daily/run
func (h *SchedulerHandler) RunDailyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if h.daily == nil {
		WriteError(w, http.StatusServiceUnavailable, "daily scheduler is not configured")
		return
	}

	var req DailyRunRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Slot == "" {
		req.Slot = r.URL.Query().Get("slot")
	}
	if req.Slot == "" {
		WriteError(w, http.StatusBadRequest, "slot is required")
		return
	}

	if err := h.daily.RunNow(r.Context(), req.Slot); err != nil {
		if errors.Is(err, scheduler.ErrUnknownSlot) {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteSuccess(w, "Daily slot "+req.Slot+" ran")
}
