package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/interfaces"
	"github.com/ternarybob/portalwatch/internal/models"
	"golang.org/x/sync/singleflight"
)

// PassResult is what a collection pass reports back to the scheduler
type PassResult struct {
	Items    []models.Item
	NotReady bool
}

// PassFunc performs one collection pass. It should check ctx between external calls.
type PassFunc func(ctx context.Context, cycleID uint64) (*PassResult, error)

// CycleListener receives the items of every completed pass with its cycle id
type CycleListener func(items []models.Item, cycleID uint64)

// Outcome describes one pass. Callers that joined an in-flight pass receive the same pointer.
type Outcome struct {
	CycleID    uint64        `json:"cycle_id"`
	Items      []models.Item `json:"items,omitempty"`
	NotReady   bool          `json:"not_ready"`
	Skipped    bool          `json:"skipped"`
	Reason     string        `json:"reason,omitempty"`
	Err        error         `json:"-"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// CycleOptions configures a CycleScheduler
type CycleOptions struct {
	Name        string
	MinInterval time.Duration
	MaxInterval time.Duration
	RetryDelay  time.Duration
	Clock       common.Clock
	Store       interfaces.StateStore // Optional
	Sink        interfaces.EventSink  // Optional
}

// CycleScheduler runs a pass, waits the interval, and repeats. At most one pass
// is in flight; overlapping triggers join it instead of starting another.
type CycleScheduler struct {
	opts   CycleOptions
	pass   PassFunc
	logger arbor.ILogger
	group  singleflight.Group

	mu           sync.Mutex
	state        models.CycleState
	timer        *time.Timer
	generation   uint64
	baseCtx      context.Context
	baseCancel   context.CancelFunc
	runCtx       context.Context // passes run under this, never under a caller's context
	cancel       context.CancelFunc
	retryPending bool
	listeners    []CycleListener
	ticks        sync.WaitGroup
}

// NewCycleScheduler creates a scheduler and restores its persisted state.
// The scheduler is idle until Enable or Start is called.
func NewCycleScheduler(opts CycleOptions, pass PassFunc, logger arbor.ILogger) *CycleScheduler {
	if opts.Name == "" {
		opts.Name = "collector"
	}
	if opts.Clock == nil {
		opts.Clock = common.SystemClock{}
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = 15 * time.Second
	}
	if opts.MaxInterval < opts.MinInterval {
		opts.MaxInterval = opts.MinInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 10 * time.Second
	}

	s := &CycleScheduler{
		opts:   opts,
		pass:   pass,
		logger: logger,
	}
	s.baseCtx, s.baseCancel = context.WithCancel(context.Background())
	s.runCtx, s.cancel = context.WithCancel(s.baseCtx)
	s.restore()
	return s
}

func (s *CycleScheduler) stateKey() string {
	return "cycle-" + s.opts.Name
}

func (s *CycleScheduler) restore() {
	if s.opts.Store == nil {
		return
	}
	var persisted models.CycleState
	err := s.opts.Store.Load(context.Background(), s.stateKey(), &persisted)
	if err != nil {
		if !errors.Is(err, interfaces.ErrStateNotFound) {
			s.logger.Warn().Err(err).Str("scheduler", s.opts.Name).Msg("Failed to load cycle state, starting fresh")
		}
		return
	}
	persisted.Paused = false
	persisted.PauseReason = ""
	persisted.InFlight = false
	s.state = persisted

	s.logger.Debug().
		Str("scheduler", s.opts.Name).
		Bool("enabled", persisted.Enabled).
		Int64("interval_ms", persisted.IntervalMs).
		Str("cycle_count", strconv.FormatUint(persisted.CycleCount, 10)).
		Msg("Restored cycle state")
}

// Clamp bounds interval to [MinInterval, MaxInterval]
func (s *CycleScheduler) Clamp(interval time.Duration) time.Duration {
	if interval < s.opts.MinInterval {
		return s.opts.MinInterval
	}
	if interval > s.opts.MaxInterval {
		return s.opts.MaxInterval
	}
	return interval
}

// OnCycle registers a listener for completed passes
func (s *CycleScheduler) OnCycle(fn CycleListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Start re-enables the scheduler if it was enabled when the process last stopped.
// Returns true if it did.
func (s *CycleScheduler) Start() bool {
	s.mu.Lock()
	enabled := s.state.Enabled
	interval := time.Duration(s.state.IntervalMs) * time.Millisecond
	s.mu.Unlock()

	if !enabled {
		return false
	}
	s.Enable(interval)
	return true
}

// Enable starts (or re-arms) the loop with the clamped interval. The first pass
// is scheduled immediately. Re-enabling while enabled only re-arms the timer; a
// pass in flight keeps running and the next tick joins it.
func (s *CycleScheduler) Enable(interval time.Duration) models.CycleState {
	interval = s.Clamp(interval)

	s.mu.Lock()
	s.stopTimerLocked()
	s.generation++
	s.retryPending = false

	s.state.Enabled = true
	s.state.IntervalMs = interval.Milliseconds()
	s.state.LastStartAt = s.opts.Clock.Now()
	s.state.StopReason = ""
	s.armLocked(0)
	snapshot := s.state
	s.mu.Unlock()

	s.persist(snapshot)
	s.logger.Info().Str("scheduler", s.opts.Name).Dur("interval", interval).Msg("Cycle scheduler enabled")
	s.emit(models.EventSchedulerState, models.SeverityInfo, "Cycle scheduler enabled", map[string]string{
		"enabled":     "true",
		"interval_ms": strconv.FormatInt(snapshot.IntervalMs, 10),
	})
	return snapshot
}

// Disable stops the loop. A pass already in flight is cancelled at its next
// checkpoint, including one started by Trigger while the loop was off.
func (s *CycleScheduler) Disable(reason string) models.CycleState {
	s.mu.Lock()
	s.renewRunCtxLocked()
	if !s.state.Enabled {
		snapshot := s.state
		s.mu.Unlock()
		return snapshot
	}
	s.stopTimerLocked()
	s.generation++
	s.state.Enabled = false
	s.state.StopReason = reason
	s.state.LastStopAt = s.opts.Clock.Now()
	snapshot := s.state
	s.mu.Unlock()

	s.persist(snapshot)
	s.logger.Info().Str("scheduler", s.opts.Name).Str("reason", reason).Msg("Cycle scheduler disabled")
	s.emit(models.EventSchedulerState, models.SeverityInfo, "Cycle scheduler disabled", map[string]string{
		"enabled": "false",
		"reason":  reason,
	})
	return snapshot
}

// Pause drops ticks until Resume. The enabled flag and interval are untouched.
func (s *CycleScheduler) Pause(reason string) {
	s.mu.Lock()
	if s.state.Paused {
		s.mu.Unlock()
		return
	}
	s.state.Paused = true
	s.state.PauseReason = reason
	s.mu.Unlock()

	s.logger.Info().Str("scheduler", s.opts.Name).Str("reason", reason).Msg("Cycle scheduler paused")
	s.emit(models.EventSchedulerState, models.SeverityInfo, "Cycle scheduler paused", map[string]string{
		"paused": "true",
		"reason": reason,
	})
}

// Resume clears a pause
func (s *CycleScheduler) Resume() {
	s.mu.Lock()
	if !s.state.Paused {
		s.mu.Unlock()
		return
	}
	s.state.Paused = false
	s.state.PauseReason = ""
	s.mu.Unlock()

	s.logger.Info().Str("scheduler", s.opts.Name).Msg("Cycle scheduler resumed")
	s.emit(models.EventSchedulerState, models.SeverityInfo, "Cycle scheduler resumed", map[string]string{
		"paused": "false",
	})
}

// GetState returns a snapshot of the scheduler state
func (s *CycleScheduler) GetState() models.CycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Trigger runs a pass now, or joins the one in flight. While paused the trigger
// is dropped and a skipped outcome is returned. ctx bounds only how long the
// caller waits; the pass itself runs until it finishes or Disable/Close cancel it.
func (s *CycleScheduler) Trigger(ctx context.Context) *Outcome {
	s.mu.Lock()
	paused, reason := s.state.Paused, s.state.PauseReason
	s.mu.Unlock()

	if paused {
		return &Outcome{Skipped: true, Reason: "paused: " + reason, StartedAt: s.opts.Clock.Now(), FinishedAt: s.opts.Clock.Now()}
	}
	return s.run(ctx)
}

// Close stops the timer, cancels a scheduled pass and waits for it to return.
// The persisted enabled flag is left as is so Start resumes after a restart.
func (s *CycleScheduler) Close() {
	s.mu.Lock()
	s.stopTimerLocked()
	s.baseCancel()
	s.generation++
	s.mu.Unlock()

	s.ticks.Wait()
}

// renewRunCtxLocked cancels passes running under the current context and
// installs a fresh one for the next pass
func (s *CycleScheduler) renewRunCtxLocked() {
	s.cancel()
	s.runCtx, s.cancel = context.WithCancel(s.baseCtx)
}

func (s *CycleScheduler) run(ctx context.Context) *Outcome {
	s.mu.Lock()
	passCtx := s.runCtx
	s.mu.Unlock()

	ch := s.group.DoChan("cycle", func() (interface{}, error) {
		return s.execute(passCtx), nil
	})

	select {
	case res := <-ch:
		outcome := res.Val.(*Outcome)
		if res.Shared {
			s.logger.Debug().Str("scheduler", s.opts.Name).Str("cycle_id", strconv.FormatUint(outcome.CycleID, 10)).Msg("Joined in-flight pass")
		}
		return outcome
	case <-ctx.Done():
		now := s.opts.Clock.Now()
		s.logger.Debug().Str("scheduler", s.opts.Name).Err(ctx.Err()).Msg("Caller stopped waiting for pass")
		return &Outcome{Skipped: true, Reason: "caller stopped waiting", Err: ctx.Err(), StartedAt: now, FinishedAt: now}
	}
}

func (s *CycleScheduler) execute(ctx context.Context) *Outcome {
	startedAt := s.opts.Clock.Now()
	if err := ctx.Err(); err != nil {
		return &Outcome{Skipped: true, Reason: "cancelled", Err: err, StartedAt: startedAt, FinishedAt: startedAt}
	}

	s.mu.Lock()
	s.state.CycleCount++
	cycleID := s.state.CycleCount
	s.state.InFlight = true
	announced := s.state
	listeners := append([]CycleListener(nil), s.listeners...)
	s.mu.Unlock()

	// The id is on disk before the pass starts so a crash cannot reuse it
	s.persist(announced)

	outcome := &Outcome{CycleID: cycleID, StartedAt: startedAt}
	result, err := s.safePass(ctx, cycleID)
	outcome.FinishedAt = s.opts.Clock.Now()

	switch {
	case err != nil:
		outcome.Err = err
		if ctx.Err() != nil {
			outcome.Skipped = true
			outcome.Reason = "cancelled"
		}
	case result == nil || result.NotReady:
		outcome.NotReady = true
		outcome.Reason = "not ready"
	default:
		outcome.Items = result.Items
	}

	s.mu.Lock()
	s.state.InFlight = false
	s.state.LastCycleAt = outcome.FinishedAt
	snapshot := s.state
	s.mu.Unlock()
	s.persist(snapshot)

	fields := map[string]string{
		"cycle_id":    strconv.FormatUint(cycleID, 10),
		"duration_ms": strconv.FormatInt(outcome.FinishedAt.Sub(startedAt).Milliseconds(), 10),
	}

	switch {
	case outcome.Err != nil && !outcome.Skipped:
		fields["error"] = outcome.Err.Error()
		s.emit(models.EventCycleFailed, models.SeverityWarn, "Collection pass failed", fields)
	case outcome.Skipped || outcome.NotReady:
		fields["reason"] = outcome.Reason
		s.emit(models.EventCycleSkipped, models.SeverityDebug, "Collection pass skipped", fields)
	default:
		fields["items"] = strconv.Itoa(len(outcome.Items))
		s.emit(models.EventCycleCompleted, models.SeverityDebug, "Collection pass completed", fields)
		for _, fn := range listeners {
			s.notifyListener(fn, outcome.Items, cycleID)
		}
	}

	return outcome
}

func (s *CycleScheduler) safePass(ctx context.Context, cycleID uint64) (result *PassResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pass panicked: %v", r)
			s.logger.Error().Str("scheduler", s.opts.Name).Str("panic", fmt.Sprintf("%v", r)).Msg("Recovered from panic in collection pass")
		}
	}()
	return s.pass(ctx, cycleID)
}

func (s *CycleScheduler) notifyListener(fn CycleListener, items []models.Item, cycleID uint64) {
	defer common.Recover(s.logger, "cycle-listener")
	fn(items, cycleID)
}

// tick is the timer callback for one generation of the loop
func (s *CycleScheduler) tick(generation uint64) {
	s.mu.Lock()
	if generation != s.generation || !s.state.Enabled {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	interval := time.Duration(s.state.IntervalMs) * time.Millisecond

	if s.state.Paused {
		s.armLocked(interval)
		s.mu.Unlock()
		s.logger.Debug().Str("scheduler", s.opts.Name).Msg("Tick dropped while paused")
		return
	}
	ctx := s.runCtx
	s.mu.Unlock()

	outcome := s.run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation || !s.state.Enabled {
		return
	}

	delay := interval
	if outcome.NotReady && !s.retryPending {
		delay = s.opts.RetryDelay
		s.retryPending = true
	} else {
		s.retryPending = false
	}
	s.armLocked(delay)
}

func (s *CycleScheduler) armLocked(delay time.Duration) {
	generation := s.generation
	s.ticks.Add(1)
	s.timer = time.AfterFunc(delay, func() {
		defer s.ticks.Done()
		defer common.Recover(s.logger, "cycle-tick")
		s.tick(generation)
	})
}

func (s *CycleScheduler) stopTimerLocked() {
	if s.timer != nil {
		if s.timer.Stop() {
			s.ticks.Done()
		}
		s.timer = nil
	}
}

func (s *CycleScheduler) persist(state models.CycleState) {
	if s.opts.Store == nil {
		return
	}
	state.Paused = false
	state.PauseReason = ""
	state.InFlight = false
	if err := s.opts.Store.Save(context.Background(), s.stateKey(), state); err != nil {
		s.logger.Warn().Err(err).Str("scheduler", s.opts.Name).Msg("Failed to persist cycle state")
	}
}

func (s *CycleScheduler) emit(eventType string, severity models.Severity, message string, fields map[string]string) {
	if s.opts.Sink == nil {
		return
	}
	if fields == nil {
		fields = make(map[string]string)
	}
	fields["scheduler"] = s.opts.Name
	s.opts.Sink.Emit(context.Background(), models.Event{
		Type:     eventType,
		Source:   "cycle",
		Severity: severity,
		Message:  message,
		Fields:   fields,
	})
}
