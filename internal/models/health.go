package models

import "time"

// LoginState is the tri-state session indicator.
type LoginState string

const (
	LoginUnknown LoginState = "unknown"
	LoginTrue    LoginState = "true"
	LoginFalse   LoginState = "false"
)

// NetworkHealth is the network reachability state machine snapshot.
type NetworkHealth struct {
	IsOnline                bool      `json:"is_online"`
	IsOnlineStable          bool      `json:"is_online_stable"`
	LastChangeAt            time.Time `json:"last_change_at"`
	ConsecutiveFailureCount int       `json:"consecutive_failure_count"`
}

// SessionHealth is the session/login state machine snapshot.
type SessionHealth struct {
	LoginState           LoginState `json:"login_state"`
	LastLoginAt          time.Time  `json:"last_login_at"`
	ConsecutiveMissCount int        `json:"consecutive_miss_count"`
}

// HealthSnapshot is a read-only copy of both machines.
type HealthSnapshot struct {
	Network NetworkHealth `json:"network"`
	Session SessionHealth `json:"session"`
}
