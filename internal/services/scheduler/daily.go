package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/interfaces"
	"github.com/ternarybob/portalwatch/internal/models"
)

// ErrUnknownSlot is returned for a slot label that is not configured
var ErrUnknownSlot = errors.New("unknown daily slot")

const (
	dailyStateKey = "daily"
	dayKeyLayout  = "2006-01-02"
)

// DailyRunFunc performs the work for one slot. manual is true for RunNow.
type DailyRunFunc func(ctx context.Context, label string, manual bool) error

// Slot is a wall-clock time of day in the scheduler timezone
type Slot struct {
	Label  string
	Hour   int
	Minute int
}

// ParseSlot parses "HH:MM"
func ParseSlot(label string) (Slot, error) {
	t, err := time.Parse("15:04", label)
	if err != nil {
		return Slot{}, fmt.Errorf("invalid slot %q (expected HH:MM): %w", label, err)
	}
	return Slot{Label: label, Hour: t.Hour(), Minute: t.Minute()}, nil
}

// DailyOptions configures a DailyScheduler
type DailyOptions struct {
	Location         *time.Location
	Slots            []string
	CatchUp          time.Duration
	InclusiveCatchUp bool   // true: a run exactly CatchUp late still fires
	TickSpec         string // cron spec for the check tick, default "@every 30s"
	KeepDays         int    // Days of run history retained, default 7
	Clock            common.Clock
	Store            interfaces.StateStore // Optional
}

// DailyScheduler fires each slot at most once per calendar day in the configured
// timezone, with a bounded catch-up window for ticks missed during downtime.
type DailyScheduler struct {
	opts   DailyOptions
	slots  []Slot
	run    DailyRunFunc
	logger arbor.ILogger

	mu     sync.Mutex
	state  models.DailyRunState
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDailyScheduler validates the slots and restores the persisted run state
func NewDailyScheduler(opts DailyOptions, run DailyRunFunc, logger arbor.ILogger) (*DailyScheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TickSpec == "" {
		opts.TickSpec = "@every 30s"
	}
	if opts.KeepDays <= 0 {
		opts.KeepDays = 7
	}
	if opts.Clock == nil {
		opts.Clock = common.SystemClock{}
	}

	slots := make([]Slot, 0, len(opts.Slots))
	seen := make(map[string]bool)
	for _, label := range opts.Slots {
		slot, err := ParseSlot(label)
		if err != nil {
			return nil, err
		}
		if seen[label] {
			continue
		}
		seen[label] = true
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].Hour*60+slots[i].Minute < slots[j].Hour*60+slots[j].Minute
	})

	s := &DailyScheduler{
		opts:   opts,
		slots:  slots,
		run:    run,
		logger: logger,
		state:  models.NewDailyRunState(),
	}
	s.restore()
	return s, nil
}

// NewDailySchedulerFromConfig builds a DailyScheduler from the daily config section
func NewDailySchedulerFromConfig(cfg common.DailyConfig, store interfaces.StateStore, run DailyRunFunc, logger arbor.ILogger) (*DailyScheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	tick := common.ParseDurationOr(cfg.TickInterval, 30*time.Second)
	return NewDailyScheduler(DailyOptions{
		Location:         loc,
		Slots:            cfg.Slots,
		CatchUp:          time.Duration(cfg.CatchUpMinutes) * time.Minute,
		InclusiveCatchUp: cfg.InclusiveCatchUp,
		TickSpec:         "@every " + tick.String(),
		Store:            store,
	}, run, logger)
}

func (s *DailyScheduler) restore() {
	if s.opts.Store == nil {
		return
	}
	var persisted models.DailyRunState
	if err := s.opts.Store.Load(context.Background(), dailyStateKey, &persisted); err != nil {
		if !errors.Is(err, interfaces.ErrStateNotFound) {
			s.logger.Warn().Err(err).Msg("Failed to load daily run state, starting fresh")
		}
		return
	}
	if persisted.Days == nil {
		persisted.Days = make(map[string]map[string]time.Time)
	}
	if persisted.ManualRuns == nil {
		persisted.ManualRuns = make(map[string]time.Time)
	}
	s.state = persisted
}

// Slots returns the configured slot labels in time order
func (s *DailyScheduler) Slots() []string {
	labels := make([]string, len(s.slots))
	for i, slot := range s.slots {
		labels[i] = slot.Label
	}
	return labels
}

func (s *DailyScheduler) slot(label string) (Slot, bool) {
	for _, slot := range s.slots {
		if slot.Label == label {
			return slot, true
		}
	}
	return Slot{}, false
}

// DayKey returns the calendar day of t in the scheduler timezone
func (s *DailyScheduler) DayKey(t time.Time) string {
	return t.In(s.opts.Location).Format(dayKeyLayout)
}

// ShouldRun reports whether label is due at now: its latest occurrence has not
// run yet, and now is at the slot minute or late by no more than the catch-up
// window. The window may carry a late-evening slot past midnight.
func (s *DailyScheduler) ShouldRun(label string, now time.Time) (bool, error) {
	slot, ok := s.slot(label)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownSlot, label)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, due := s.dueLocked(slot, now)
	return due, nil
}

// dueLocked checks today's occurrence of slot, then yesterday's, and returns
// the day key the due occurrence belongs to
func (s *DailyScheduler) dueLocked(slot Slot, now time.Time) (string, bool) {
	local := now.In(s.opts.Location)
	for back := 0; back <= 1; back++ {
		slotTime := time.Date(local.Year(), local.Month(), local.Day()-back, slot.Hour, slot.Minute, 0, 0, s.opts.Location)
		day := slotTime.Format(dayKeyLayout)
		if s.state.HasRun(day, slot.Label) {
			continue
		}
		if s.withinWindow(local.Sub(slotTime)) {
			return day, true
		}
	}
	return "", false
}

func (s *DailyScheduler) withinWindow(late time.Duration) bool {
	switch {
	case late < 0:
		return false
	case late < time.Minute:
		return true
	case s.opts.InclusiveCatchUp:
		return late <= s.opts.CatchUp
	default:
		return late < s.opts.CatchUp
	}
}

// Tick checks every slot once and runs the due ones. Each run is recorded and
// persisted before it starts.
func (s *DailyScheduler) Tick(ctx context.Context) {
	now := s.opts.Clock.Now()

	for _, slot := range s.slots {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		day, due := s.dueLocked(slot, now)
		var snapshot models.DailyRunState
		if due {
			s.markLocked(day, slot.Label, now)
			snapshot = s.copyStateLocked()
		}
		s.mu.Unlock()

		if !due {
			continue
		}

		s.persist(snapshot)
		s.logger.Info().Str("slot", slot.Label).Str("day", day).Msg("Daily slot due, running")
		s.execute(ctx, slot.Label, false)
	}
}

// RunNow runs label immediately. Manual runs are recorded separately and do not
// satisfy, or get blocked by, the automatic once-per-day bookkeeping.
func (s *DailyScheduler) RunNow(ctx context.Context, label string) error {
	if _, ok := s.slot(label); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, label)
	}

	s.mu.Lock()
	s.state.ManualRuns[label] = s.opts.Clock.Now()
	snapshot := s.copyStateLocked()
	s.mu.Unlock()

	s.persist(snapshot)
	s.logger.Info().Str("slot", label).Msg("Daily slot run manually")
	return s.execute(ctx, label, true)
}

func (s *DailyScheduler) execute(ctx context.Context, label string, manual bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("daily run panicked: %v", r)
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("slot", label).Bool("manual", manual).Msg("Daily run failed")
		}
	}()
	return s.run(ctx, label, manual)
}

func (s *DailyScheduler) markLocked(day, label string, now time.Time) {
	if s.state.Days[day] == nil {
		s.state.Days[day] = make(map[string]time.Time)
	}
	s.state.Days[day][label] = now

	// Day keys sort lexically in date order
	cutoff := now.In(s.opts.Location).AddDate(0, 0, -s.opts.KeepDays).Format(dayKeyLayout)
	for key := range s.state.Days {
		if key < cutoff {
			delete(s.state.Days, key)
		}
	}
}

func (s *DailyScheduler) copyStateLocked() models.DailyRunState {
	out := models.NewDailyRunState()
	for day, slots := range s.state.Days {
		m := make(map[string]time.Time, len(slots))
		for label, t := range slots {
			m[label] = t
		}
		out.Days[day] = m
	}
	for label, t := range s.state.ManualRuns {
		out.ManualRuns[label] = t
	}
	return out
}

// State returns a copy of the run bookkeeping
func (s *DailyScheduler) State() models.DailyRunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyStateLocked()
}

func (s *DailyScheduler) persist(state models.DailyRunState) {
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.Save(context.Background(), dailyStateKey, state); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist daily run state")
	}
}

// Start runs one catch-up check immediately and then checks on every cron tick
func (s *DailyScheduler) Start() error {
	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return fmt.Errorf("daily scheduler already running")
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	ctx := s.ctx

	c := cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.opts.TickSpec, func() { s.Tick(ctx) }); err != nil {
		s.cancel()
		s.mu.Unlock()
		return fmt.Errorf("failed to add daily tick: %w", err)
	}
	s.cron = c
	s.mu.Unlock()

	common.SafeGo(s.logger, "daily-catch-up", func() { s.Tick(ctx) })
	c.Start()

	s.logger.Info().
		Strs("slots", s.Slots()).
		Str("timezone", s.opts.Location.String()).
		Dur("catch_up", s.opts.CatchUp).
		Msg("Daily scheduler started")
	return nil
}

// Stop halts the tick and waits for a running check to finish
func (s *DailyScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info().Msg("Daily scheduler stopped")
}
