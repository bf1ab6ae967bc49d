package handlers

import (
	"context"
	"time"

	"github.com/ternarybob/portalwatch/internal/models"
	"github.com/ternarybob/portalwatch/internal/services/ratelimit"
	"github.com/ternarybob/portalwatch/internal/services/scheduler"
)

// CycleController is the part of scheduler.CycleScheduler the API drives.
type CycleController interface {
	Enable(interval time.Duration) models.CycleState
	Disable(reason string) models.CycleState
	Trigger(ctx context.Context) *scheduler.Outcome
	GetState() models.CycleState
}

// DailyRunner is the part of scheduler.DailyScheduler the API drives.
type DailyRunner interface {
	RunNow(ctx context.Context, label string) error
	State() models.DailyRunState
	Slots() []string
}

// HealthReporter exposes the current health snapshot.
type HealthReporter interface {
	Snapshot() models.HealthSnapshot
}

// CredentialVerifier checks lock-screen credentials.
type CredentialVerifier interface {
	Verify(username, secret string) ratelimit.Result
}
