// Package notify gates and delivers outbound notifications.
package notify

import (
	"sync"
	"time"

	"github.com/ternarybob/portalwatch/internal/common"
)

// Dedup suppresses repeats of a signature within a TTL
type Dedup struct {
	ttl   time.Duration
	clock common.Clock

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewDedup creates a Dedup with the given TTL
func NewDedup(ttl time.Duration, clock common.Clock) *Dedup {
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Dedup{
		ttl:      ttl,
		clock:    clock,
		lastSent: make(map[string]time.Time),
	}
}

// ShouldSend reports whether signature may be sent now and, if so, records it
func (d *Dedup) ShouldSend(signature string) bool {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastSent[signature]; ok && now.Sub(last) < d.ttl {
		return false
	}
	d.lastSent[signature] = now
	return true
}

// Forget drops a signature so the next ShouldSend passes
func (d *Dedup) Forget(signature string) {
	d.mu.Lock()
	delete(d.lastSent, signature)
	d.mu.Unlock()
}

// Prune removes expired signatures and returns how many were dropped
func (d *Dedup) Prune() int {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for sig, last := range d.lastSent {
		if now.Sub(last) >= d.ttl {
			delete(d.lastSent, sig)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked signatures
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lastSent)
}
