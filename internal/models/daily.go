package models

import "time"

// DailyRunState maps a calendar day (YYYY-MM-DD in the scheduler timezone)
// to slot label to the time the slot last ran automatically.
type DailyRunState struct {
	Days       map[string]map[string]time.Time `json:"days"`
	ManualRuns map[string]time.Time            `json:"manual_runs,omitempty"`
}

// NewDailyRunState returns an empty state with initialised maps.
func NewDailyRunState() DailyRunState {
	return DailyRunState{
		Days:       make(map[string]map[string]time.Time),
		ManualRuns: make(map[string]time.Time),
	}
}

// HasRun reports whether the slot already ran on the given day.
func (s DailyRunState) HasRun(dayKey, label string) bool {
	slots, ok := s.Days[dayKey]
	if !ok {
		return false
	}
	_, ok = slots[label]
	return ok
}
