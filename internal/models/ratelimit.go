package models

import "time"

// RateLimitRecord tracks failed attempts for one identifier.
// LockedUntil is either zero or in the future.
type RateLimitRecord struct {
	Count           int       `json:"count"`
	WindowStartedAt time.Time `json:"window_started_at"`
	LockedUntil     time.Time `json:"locked_until"`
	LastAttemptAt   time.Time `json:"last_attempt_at"`
}
