package models

import "time"

// Severity is the closed set of event levels.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

// String returns the lowercase level name.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is a structured domain event emitted by a component.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Source    string            `json:"source"`
	Severity  Severity          `json:"severity"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Event types emitted by the core.
const (
	EventCycleCompleted  = "cycle_completed"
	EventCycleSkipped    = "cycle_skipped"
	EventCycleFailed     = "cycle_failed"
	EventSchedulerState  = "scheduler_state"
	EventNetworkOnline   = "network_online"
	EventNetworkStable   = "network_stable"
	EventNetworkOffline  = "network_offline"
	EventSessionLogin    = "session_login"
	EventSessionLogout   = "session_logout"
	EventListingNew      = "listing_new"
	EventLeadNew         = "lead_new"
	EventActionPerformed = "action_performed"
	EventDigestSent      = "digest_sent"
	EventStoreRotated    = "store_rotated"
	EventUnlockDenied    = "unlock_denied"
	EventRulesReloaded   = "rules_reloaded"
)
