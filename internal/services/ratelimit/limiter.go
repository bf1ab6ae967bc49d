// Package ratelimit implements the failed-credential attempt limiter and the
// constant-time credential verifier that sits in front of it.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/models"
)

// Options configures a Limiter
type Options struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
	Expiry      time.Duration
}

// Decision is the result of Check
type Decision struct {
	Allowed    bool          `json:"allowed"`
	RetryAfter time.Duration `json:"-"`
}

// RetryAfterMs returns RetryAfter in whole milliseconds
func (d Decision) RetryAfterMs() int64 {
	return d.RetryAfter.Milliseconds()
}

// Limiter counts failed attempts per identifier within a fixed window and
// locks the identifier out once the count reaches MaxAttempts.
type Limiter struct {
	opts   Options
	clock  common.Clock
	logger arbor.ILogger

	mu      sync.Mutex
	records map[string]*models.RateLimitRecord
}

// NewLimiter creates a Limiter
func NewLimiter(opts Options, clock common.Clock, logger arbor.ILogger) *Limiter {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Limiter{
		opts:    opts,
		clock:   clock,
		logger:  logger,
		records: make(map[string]*models.RateLimitRecord),
	}
}

// NewLimiterFromConfig builds a Limiter from the rate_limit config section
func NewLimiterFromConfig(cfg common.RateLimitConfig, clock common.Clock, logger arbor.ILogger) *Limiter {
	return NewLimiter(Options{
		MaxAttempts: cfg.MaxAttempts,
		Window:      common.ParseDurationOr(cfg.Window, 5*time.Minute),
		Lockout:     common.ParseDurationOr(cfg.Lockout, 5*time.Minute),
		Expiry:      common.ParseDurationOr(cfg.Expiry, 24*time.Hour),
	}, clock, logger)
}

// Check reports whether identifier may attempt now
func (l *Limiter) Check(identifier string) Decision {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[identifier]
	if !ok {
		return Decision{Allowed: true}
	}

	if !rec.LockedUntil.IsZero() {
		if now.Before(rec.LockedUntil) {
			return Decision{Allowed: false, RetryAfter: rec.LockedUntil.Sub(now)}
		}
		// Lockout served
		rec.LockedUntil = time.Time{}
		rec.Count = 0
		rec.WindowStartedAt = now
	}

	if l.windowExpired(rec, now) {
		rec.Count = 0
		rec.WindowStartedAt = now
	}

	return Decision{Allowed: true}
}

// RecordFailure counts a failed attempt and locks the identifier when the
// count reaches MaxAttempts within the window.
func (l *Limiter) RecordFailure(identifier string) Decision {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[identifier]
	if !ok {
		rec = &models.RateLimitRecord{WindowStartedAt: now}
		l.records[identifier] = rec
	}

	if !rec.LockedUntil.IsZero() && now.Before(rec.LockedUntil) {
		rec.LastAttemptAt = now
		return Decision{Allowed: false, RetryAfter: rec.LockedUntil.Sub(now)}
	}

	if !rec.LockedUntil.IsZero() || l.windowExpired(rec, now) {
		rec.LockedUntil = time.Time{}
		rec.Count = 0
		rec.WindowStartedAt = now
	}

	rec.Count++
	rec.LastAttemptAt = now

	if rec.Count >= l.opts.MaxAttempts {
		rec.LockedUntil = now.Add(l.opts.Lockout)
		l.logger.Warn().
			Str("identifier", identifier).
			Int("attempts", rec.Count).
			Dur("lockout", l.opts.Lockout).
			Msg("Identifier locked out after repeated failures")
		return Decision{Allowed: false, RetryAfter: l.opts.Lockout}
	}

	return Decision{Allowed: true}
}

// Clear forgets identifier
func (l *Limiter) Clear(identifier string) {
	l.mu.Lock()
	delete(l.records, identifier)
	l.mu.Unlock()
}

// Record returns a copy of the record for identifier
func (l *Limiter) Record(identifier string) (models.RateLimitRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[identifier]
	if !ok {
		return models.RateLimitRecord{}, false
	}
	return *rec, true
}

// Sweep purges records whose last attempt is older than Expiry and are not locked
func (l *Limiter) Sweep() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, rec := range l.records {
		if now.Before(rec.LockedUntil) {
			continue
		}
		last := rec.LastAttemptAt
		if last.IsZero() {
			last = rec.WindowStartedAt
		}
		if now.Sub(last) >= l.opts.Expiry {
			delete(l.records, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	common.SafeGo(l.logger, "ratelimit-sweeper", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := l.Sweep(); n > 0 {
					l.logger.Debug().Int("removed", n).Msg("Swept expired rate limit records")
				}
			}
		}
	})
}

func (l *Limiter) windowExpired(rec *models.RateLimitRecord, now time.Time) bool {
	return l.opts.Window > 0 && now.Sub(rec.WindowStartedAt) >= l.opts.Window
}
