package page

import (
	"context"

	"github.com/ternarybob/portalwatch/internal/interfaces"
	"github.com/ternarybob/portalwatch/internal/models"
	"golang.org/x/sync/semaphore"
)

// Exclusive hands the portal tab to one operation at a time. A collection pass
// holds it across all of its steps through Do; the single-call methods take it
// per call, so a health check waits for a pass instead of acting between its
// clicks.
type Exclusive struct {
	adapter interfaces.PageAdapter
	sem     *semaphore.Weighted
}

// NewExclusive wraps adapter. Wrapping an Exclusive returns it unchanged.
func NewExclusive(adapter interfaces.PageAdapter) *Exclusive {
	if ex, ok := adapter.(*Exclusive); ok {
		return ex
	}
	return &Exclusive{adapter: adapter, sem: semaphore.NewWeighted(1)}
}

// Adapter returns the wrapped adapter. Only call it from inside Do.
func (e *Exclusive) Adapter() interfaces.PageAdapter {
	return e.adapter
}

// Do runs fn while holding the tab. Returns ctx.Err() if ctx ends while waiting.
func (e *Exclusive) Do(ctx context.Context, fn func() error) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)
	return fn()
}

func (e *Exclusive) IsReady(ctx context.Context) (bool, error) {
	var ready bool
	err := e.Do(ctx, func() error {
		var err error
		ready, err = e.adapter.IsReady(ctx)
		return err
	})
	return ready, err
}

func (e *Exclusive) ExtractItems(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	err := e.Do(ctx, func() error {
		var err error
		items, err = e.adapter.ExtractItems(ctx)
		return err
	})
	return items, err
}

func (e *Exclusive) Click(ctx context.Context, index int) (bool, error) {
	var clicked bool
	err := e.Do(ctx, func() error {
		var err error
		clicked, err = e.adapter.Click(ctx, index)
		return err
	})
	return clicked, err
}

func (e *Exclusive) IsSessionActive(ctx context.Context) (models.LoginState, error) {
	state := models.LoginUnknown
	err := e.Do(ctx, func() error {
		var err error
		state, err = e.adapter.IsSessionActive(ctx)
		return err
	})
	if err != nil {
		return models.LoginUnknown, err
	}
	return state, nil
}

var _ interfaces.PageAdapter = (*Exclusive)(nil)
