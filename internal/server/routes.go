package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket event stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler) // GET - cycle, health, daily, stores

	// API routes - Cycle scheduler
	mux.HandleFunc("/api/cycle", s.app.SchedulerHandler.GetCycleHandler)
	mux.HandleFunc("/api/cycle/enable", s.app.SchedulerHandler.EnableHandler)   // POST {interval_ms}
	mux.HandleFunc("/api/cycle/disable", s.app.SchedulerHandler.DisableHandler) // POST {reason}
	mux.HandleFunc("/api/cycle/run", s.app.SchedulerHandler.TriggerCycleHandler)

	// API routes - Daily scheduler
	mux.HandleFunc("/api/daily/run", s.app.SchedulerHandler.RunDailyHandler) // POST {slot}

	// API routes - Dedup stores
	mux.HandleFunc("/api/stores", byMethod(map[string]http.HandlerFunc{
		http.MethodGet: s.app.StoreHandler.ListStoresHandler,
	}))
	mux.HandleFunc("/api/stores/", s.app.StoreHandler.StoreRoutes) // GET /{name}, POST /{name}/reset, POST /{name}/rotate

	// API routes - Lock screen
	mux.HandleFunc("/api/unlock", s.app.AuthHandler.UnlockHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
