package models

import "time"

// CycleState is the persisted lifecycle of a cycle scheduler.
type CycleState struct {
	Enabled     bool      `json:"enabled"`
	IntervalMs  int64     `json:"interval_ms"`
	LastStartAt time.Time `json:"last_start_at"`
	LastStopAt  time.Time `json:"last_stop_at"`
	LastCycleAt time.Time `json:"last_cycle_at"`
	CycleCount  uint64    `json:"cycle_count"`
	StopReason  string    `json:"stop_reason,omitempty"`

	// Runtime only, never persisted
	Paused      bool   `json:"paused"`
	PauseReason string `json:"pause_reason,omitempty"`
	InFlight    bool   `json:"in_flight"`
}
