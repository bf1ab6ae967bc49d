package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/models"
)

// scripted returns probes driven by the test
type scripted struct {
	networkErr   error
	sessionState models.LoginState
	sessionErr   error
	sessionCalls int
}

func (s *scripted) network(ctx context.Context) error {
	return s.networkErr
}

func (s *scripted) session(ctx context.Context) (models.LoginState, error) {
	s.sessionCalls++
	return s.sessionState, s.sessionErr
}

func newTestMonitor(clock *common.FakeClock) (*Monitor, *scripted, *[]Transition) {
	probes := &scripted{sessionState: models.LoginUnknown}
	m := NewMonitor(Options{
		OfflineThreshold: 3,
		StabilizeWindow:  5 * time.Second,
		LogoutThreshold:  3,
		LoginQuarantine:  30 * time.Second,
		Clock:            clock,
	}, probes.network, probes.session, arbor.NewLogger())

	var seen []Transition
	m.OnTransition(func(t Transition, snapshot models.HealthSnapshot) {
		seen = append(seen, t)
	})
	return m, probes, &seen
}

func TestMonitor_InitialState(t *testing.T) {
	m, _, _ := newTestMonitor(common.NewFakeClock(time.Now()))
	snap := m.Snapshot()
	assert.True(t, snap.Network.IsOnline)
	assert.True(t, snap.Network.IsOnlineStable)
	assert.Equal(t, models.LoginUnknown, snap.Session.LoginState)
}

func TestMonitor_OfflineAfterThreshold(t *testing.T) {
	clock := common.NewFakeClock(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	m, probes, seen := newTestMonitor(clock)
	ctx := context.Background()

	probes.networkErr = errors.New("unreachable")

	m.Poll(ctx)
	assert.True(t, m.Snapshot().Network.IsOnline, "probe 1 does not flip")
	m.Poll(ctx)
	assert.True(t, m.Snapshot().Network.IsOnline, "probe 2 does not flip")
	m.Poll(ctx)
	assert.False(t, m.Snapshot().Network.IsOnline, "probe 3 flips")
	assert.Equal(t, []Transition{TransitionOffline}, *seen)

	// Further failures do not re-fire
	m.Poll(ctx)
	m.Poll(ctx)
	assert.Equal(t, []Transition{TransitionOffline}, *seen)
	assert.Equal(t, 5, m.Snapshot().Network.ConsecutiveFailureCount)
}

func TestMonitor_TransientFailureDoesNotFlip(t *testing.T) {
	m, probes, seen := newTestMonitor(common.NewFakeClock(time.Now()))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		m.Poll(ctx)
	}
	probes.networkErr = errors.New("blip")
	m.Poll(ctx)
	m.Poll(ctx)
	probes.networkErr = nil
	m.Poll(ctx)

	assert.True(t, m.Snapshot().Network.IsOnline)
	assert.Equal(t, 0, m.Snapshot().Network.ConsecutiveFailureCount)
	assert.Empty(t, *seen)
}

func TestMonitor_OnlineUnstableThenStable(t *testing.T) {
	clock := common.NewFakeClock(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	m, probes, seen := newTestMonitor(clock)
	ctx := context.Background()

	probes.networkErr = errors.New("down")
	for i := 0; i < 3; i++ {
		m.Poll(ctx)
	}
	require.False(t, m.Snapshot().Network.IsOnline)

	probes.networkErr = nil
	clock.Advance(time.Second)
	m.Poll(ctx)
	snap := m.Snapshot()
	assert.True(t, snap.Network.IsOnline, "first success flips online")
	assert.False(t, snap.Network.IsOnlineStable)

	clock.Advance(4 * time.Second)
	m.Poll(ctx)
	assert.False(t, m.Snapshot().Network.IsOnlineStable)

	clock.Advance(time.Second)
	m.Poll(ctx)
	assert.True(t, m.Snapshot().Network.IsOnlineStable)

	assert.Equal(t, []Transition{TransitionOffline, TransitionOnline, TransitionStable}, *seen)
}

func TestMonitor_SessionSkippedWhileOffline(t *testing.T) {
	m, probes, _ := newTestMonitor(common.NewFakeClock(time.Now()))
	ctx := context.Background()

	probes.networkErr = errors.New("down")
	m.Poll(ctx)
	m.Poll(ctx)
	assert.Equal(t, 2, probes.sessionCalls, "still online during debounce")
	m.Poll(ctx)
	m.Poll(ctx)
	assert.Equal(t, 2, probes.sessionCalls)
}

func TestMonitor_LoginAndLogoutHysteresis(t *testing.T) {
	clock := common.NewFakeClock(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	m, probes, seen := newTestMonitor(clock)
	ctx := context.Background()

	probes.sessionState = models.LoginTrue
	m.Poll(ctx)
	m.Poll(ctx)
	assert.Equal(t, []Transition{TransitionLogin}, *seen)
	loginAt := m.Snapshot().Session.LastLoginAt
	assert.Equal(t, clock.Now(), loginAt)

	// Past the quarantine, misses count
	clock.Advance(time.Minute)
	probes.sessionState = models.LoginFalse
	m.Poll(ctx)
	m.Poll(ctx)
	assert.Equal(t, models.LoginTrue, m.Snapshot().Session.LoginState)
	assert.Equal(t, 2, m.Snapshot().Session.ConsecutiveMissCount)

	m.Poll(ctx)
	assert.Equal(t, models.LoginFalse, m.Snapshot().Session.LoginState)
	assert.Equal(t, []Transition{TransitionLogin, TransitionLogout}, *seen)

	m.Poll(ctx)
	assert.Equal(t, []Transition{TransitionLogin, TransitionLogout}, *seen)
}

func TestMonitor_SingleMissResetByLogin(t *testing.T) {
	clock := common.NewFakeClock(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	m, probes, _ := newTestMonitor(clock)
	ctx := context.Background()

	probes.sessionState = models.LoginTrue
	m.Poll(ctx)
	clock.Advance(time.Minute)

	probes.sessionState = models.LoginFalse
	m.Poll(ctx)
	m.Poll(ctx)
	probes.sessionState = models.LoginTrue
	m.Poll(ctx)
	probes.sessionState = models.LoginFalse
	m.Poll(ctx)
	m.Poll(ctx)

	assert.Equal(t, models.LoginTrue, m.Snapshot().Session.LoginState)
}

func TestMonitor_LoginQuarantine(t *testing.T) {
	clock := common.NewFakeClock(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	m, probes, seen := newTestMonitor(clock)
	ctx := context.Background()

	probes.sessionState = models.LoginTrue
	m.Poll(ctx)

	probes.sessionState = models.LoginFalse
	for i := 0; i < 10; i++ {
		clock.Advance(2 * time.Second)
		m.Poll(ctx)
	}
	assert.Equal(t, models.LoginTrue, m.Snapshot().Session.LoginState, "misses inside quarantine are ignored")
	assert.Equal(t, 0, m.Snapshot().Session.ConsecutiveMissCount)

	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Second)
		m.Poll(ctx)
	}
	assert.Equal(t, models.LoginFalse, m.Snapshot().Session.LoginState)
	assert.Equal(t, []Transition{TransitionLogin, TransitionLogout}, *seen)
}

func TestMonitor_UnknownLeavesSessionAlone(t *testing.T) {
	clock := common.NewFakeClock(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	m, probes, _ := newTestMonitor(clock)
	ctx := context.Background()

	probes.sessionState = models.LoginTrue
	m.Poll(ctx)
	clock.Advance(time.Minute)

	probes.sessionState = models.LoginUnknown
	for i := 0; i < 10; i++ {
		m.Poll(ctx)
	}
	snap := m.Snapshot()
	assert.Equal(t, models.LoginTrue, snap.Session.LoginState)
	assert.Equal(t, 0, snap.Session.ConsecutiveMissCount)
}

func TestMonitor_AdapterErrorCountsAsMiss(t *testing.T) {
	clock := common.NewFakeClock(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	m, probes, seen := newTestMonitor(clock)
	ctx := context.Background()

	probes.sessionState = models.LoginTrue
	m.Poll(ctx)
	clock.Advance(time.Minute)

	probes.sessionState = models.LoginUnknown
	probes.sessionErr = errors.New("page crashed")
	for i := 0; i < 3; i++ {
		m.Poll(ctx)
	}
	assert.Equal(t, models.LoginFalse, m.Snapshot().Session.LoginState)
	assert.Contains(t, *seen, TransitionLogout)
}

func TestMonitor_ListenerPanicIsRecovered(t *testing.T) {
	m, probes, seen := newTestMonitor(common.NewFakeClock(time.Now()))
	m.OnTransition(func(Transition, models.HealthSnapshot) { panic("listener bug") })

	probes.sessionState = models.LoginTrue
	assert.NotPanics(t, func() { m.Poll(context.Background()) })
	assert.Equal(t, []Transition{TransitionLogin}, *seen)
}

func TestHTTPProbe(t *testing.T) {
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(status)
	}))
	defer server.Close()

	probe := HTTPProbe(server.URL, time.Second)
	assert.NoError(t, probe(context.Background()))

	status = http.StatusForbidden
	assert.NoError(t, probe(context.Background()), "4xx still means reachable")

	status = http.StatusServiceUnavailable
	assert.Error(t, probe(context.Background()))

	assert.Error(t, HTTPProbe("http://127.0.0.1:1", 200*time.Millisecond)(context.Background()))
}
