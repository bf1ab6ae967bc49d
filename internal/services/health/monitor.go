// Package health tracks network reachability and portal session state with
// two debounced state machines and reports edge-triggered transitions.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/interfaces"
	"github.com/ternarybob/portalwatch/internal/models"
)

// Transition is an edge reported once per state change
type Transition string

const (
	TransitionOnline  Transition = "online"
	TransitionStable  Transition = "stable"
	TransitionOffline Transition = "offline"
	TransitionLogin   Transition = "login"
	TransitionLogout  Transition = "logout"
)

// Listener receives transitions with the snapshot taken right after the change
type Listener func(t Transition, snapshot models.HealthSnapshot)

// NetworkProbe reports reachability; any error counts as a failed probe
type NetworkProbe func(ctx context.Context) error

// SessionProbe reports whether the portal session looks logged in
type SessionProbe func(ctx context.Context) (models.LoginState, error)

// Options configures a Monitor
type Options struct {
	PollInterval     time.Duration
	OfflineThreshold int
	StabilizeWindow  time.Duration
	LogoutThreshold  int
	LoginQuarantine  time.Duration
	Clock            common.Clock
	Sink             interfaces.EventSink // Optional
}

// OptionsFromConfig maps the health config section
func OptionsFromConfig(cfg common.HealthConfig) Options {
	return Options{
		PollInterval:     common.ParseDurationOr(cfg.PollInterval, 5*time.Second),
		OfflineThreshold: cfg.OfflineThreshold,
		StabilizeWindow:  common.ParseDurationOr(cfg.StabilizeWindow, 5*time.Second),
		LogoutThreshold:  cfg.LogoutThreshold,
		LoginQuarantine:  common.ParseDurationOr(cfg.LoginQuarantine, 30*time.Second),
	}
}

// Monitor owns the network and session state. Other components read snapshots.
type Monitor struct {
	opts    Options
	network NetworkProbe
	session SessionProbe
	logger  arbor.ILogger

	pollMu    sync.Mutex
	mu        sync.RWMutex
	net       models.NetworkHealth
	sess      models.SessionHealth
	listeners []Listener
}

// NewMonitor creates a Monitor. The network starts online and stable, the session unknown.
// session may be nil when there is no page to check.
func NewMonitor(opts Options, network NetworkProbe, session SessionProbe, logger arbor.ILogger) *Monitor {
	if opts.OfflineThreshold <= 0 {
		opts.OfflineThreshold = 3
	}
	if opts.LogoutThreshold <= 0 {
		opts.LogoutThreshold = 3
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = common.SystemClock{}
	}

	now := opts.Clock.Now()
	return &Monitor{
		opts:    opts,
		network: network,
		session: session,
		logger:  logger,
		net: models.NetworkHealth{
			IsOnline:       true,
			IsOnlineStable: true,
			LastChangeAt:   now,
		},
		sess: models.SessionHealth{
			LoginState: models.LoginUnknown,
		},
	}
}

// OnTransition registers a listener
func (m *Monitor) OnTransition(fn Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Snapshot returns a copy of both machines
func (m *Monitor) Snapshot() models.HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return models.HealthSnapshot{Network: m.net, Session: m.sess}
}

// Poll runs one network probe and, if online, one session probe. Network is
// always evaluated before session. Transitions are delivered after both.
func (m *Monitor) Poll(ctx context.Context) []Transition {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	var transitions []Transition

	err := m.probeNetwork(ctx)
	now := m.opts.Clock.Now()

	m.mu.Lock()
	transitions = append(transitions, m.applyNetworkLocked(err == nil, now)...)
	online := m.net.IsOnline
	m.mu.Unlock()

	if err != nil {
		m.logger.Debug().Err(err).Msg("Network probe failed")
	}

	if online && m.session != nil && ctx.Err() == nil {
		state := m.probeSession(ctx)
		now = m.opts.Clock.Now()

		m.mu.Lock()
		transitions = append(transitions, m.applySessionLocked(state, now)...)
		m.mu.Unlock()
	}

	if len(transitions) > 0 {
		snapshot := m.Snapshot()
		for _, t := range transitions {
			m.publish(t, snapshot)
		}
	}
	return transitions
}

func (m *Monitor) probeNetwork(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("network probe panicked: %v", r)
			m.logger.Warn().Err(err).Msg("Recovered from panic in network probe")
		}
	}()
	return m.network(ctx)
}

// probeSession maps an adapter failure to a miss
func (m *Monitor) probeSession(ctx context.Context) (state models.LoginState) {
	defer func() {
		if r := recover(); r != nil {
			state = models.LoginFalse
			m.logger.Warn().Str("panic", "session probe").Msg("Recovered from panic in session probe")
		}
	}()
	state, err := m.session(ctx)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Session probe failed, counting as a miss")
		return models.LoginFalse
	}
	return state
}

func (m *Monitor) applyNetworkLocked(ok bool, now time.Time) []Transition {
	var out []Transition

	if !ok {
		m.net.ConsecutiveFailureCount++
		if m.net.IsOnline && m.net.ConsecutiveFailureCount >= m.opts.OfflineThreshold {
			m.net.IsOnline = false
			m.net.IsOnlineStable = false
			m.net.LastChangeAt = now
			out = append(out, TransitionOffline)
		}
		return out
	}

	m.net.ConsecutiveFailureCount = 0
	if !m.net.IsOnline {
		m.net.IsOnline = true
		m.net.IsOnlineStable = false
		m.net.LastChangeAt = now
		out = append(out, TransitionOnline)
	}
	if !m.net.IsOnlineStable && now.Sub(m.net.LastChangeAt) >= m.opts.StabilizeWindow {
		m.net.IsOnlineStable = true
		out = append(out, TransitionStable)
	}
	return out
}

func (m *Monitor) applySessionLocked(state models.LoginState, now time.Time) []Transition {
	switch state {
	case models.LoginTrue:
		m.sess.ConsecutiveMissCount = 0
		if m.sess.LoginState != models.LoginTrue {
			m.sess.LoginState = models.LoginTrue
			m.sess.LastLoginAt = now
			return []Transition{TransitionLogin}
		}

	case models.LoginFalse:
		if m.sess.LoginState == models.LoginTrue && now.Sub(m.sess.LastLoginAt) < m.opts.LoginQuarantine {
			return nil
		}
		m.sess.ConsecutiveMissCount++
		if m.sess.LoginState != models.LoginFalse && m.sess.ConsecutiveMissCount >= m.opts.LogoutThreshold {
			m.sess.LoginState = models.LoginFalse
			return []Transition{TransitionLogout}
		}
	}
	return nil
}

func (m *Monitor) publish(t Transition, snapshot models.HealthSnapshot) {
	m.logger.Info().
		Str("transition", string(t)).
		Bool("online", snapshot.Network.IsOnline).
		Bool("stable", snapshot.Network.IsOnlineStable).
		Str("login_state", string(snapshot.Session.LoginState)).
		Msg("Health state changed")

	if m.opts.Sink != nil {
		m.opts.Sink.Emit(context.Background(), transitionEvent(t, snapshot))
	}

	m.mu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.RUnlock()

	for _, fn := range listeners {
		m.deliver(fn, t, snapshot)
	}
}

func (m *Monitor) deliver(fn Listener, t Transition, snapshot models.HealthSnapshot) {
	defer common.Recover(m.logger, "health-listener")
	fn(t, snapshot)
}

func transitionEvent(t Transition, snapshot models.HealthSnapshot) models.Event {
	event := models.Event{
		Source:   "health",
		Severity: models.SeverityInfo,
		Fields: map[string]string{
			"login_state": string(snapshot.Session.LoginState),
		},
	}
	switch t {
	case TransitionOnline:
		event.Type, event.Message = models.EventNetworkOnline, "Network back online"
	case TransitionStable:
		event.Type, event.Message = models.EventNetworkStable, "Network stable"
	case TransitionOffline:
		event.Type, event.Message, event.Severity = models.EventNetworkOffline, "Network offline", models.SeverityWarn
	case TransitionLogin:
		event.Type, event.Message = models.EventSessionLogin, "Portal session logged in"
	case TransitionLogout:
		event.Type, event.Message, event.Severity = models.EventSessionLogout, "Portal session logged out", models.SeverityWarn
	}
	return event
}

// Start polls every PollInterval until ctx is cancelled
func (m *Monitor) Start(ctx context.Context) {
	common.SafeGo(m.logger, "health-monitor", func() {
		ticker := time.NewTicker(m.opts.PollInterval)
		defer ticker.Stop()

		m.Poll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Poll(ctx)
			}
		}
	})
	m.logger.Info().Dur("interval", m.opts.PollInterval).Msg("Health monitor started")
}
