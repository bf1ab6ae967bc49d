package health

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/interfaces"
	"github.com/ternarybob/portalwatch/internal/models"
)

// Pausable is a scheduler that health can hold back
type Pausable interface {
	Pause(reason string)
	Resume()
}

const (
	reasonOffline = "network offline"
	reasonLogout  = "session logged out"
)

// Gate pauses dependent schedulers while the portal is unreachable or logged
// out, and resumes them once the network is stable and the session is not
// known to be logged out. It optionally notifies on each change.
type Gate struct {
	targets  []Pausable
	notifier interfaces.Notifier
	logger   arbor.ILogger
}

// NewGate wires a Gate to monitor. notifier may be nil.
func NewGate(monitor *Monitor, notifier interfaces.Notifier, logger arbor.ILogger, targets ...Pausable) *Gate {
	g := &Gate{targets: targets, notifier: notifier, logger: logger}
	monitor.OnTransition(g.handle)
	return g
}

// Blocked reports whether snapshot should hold schedulers back, and why
func Blocked(snapshot models.HealthSnapshot) (bool, string) {
	if !snapshot.Network.IsOnline {
		return true, reasonOffline
	}
	if snapshot.Session.LoginState == models.LoginFalse {
		return true, reasonLogout
	}
	if !snapshot.Network.IsOnlineStable {
		return true, "network stabilising"
	}
	return false, ""
}

func (g *Gate) handle(t Transition, snapshot models.HealthSnapshot) {
	blocked, reason := Blocked(snapshot)
	for _, target := range g.targets {
		if blocked {
			target.Pause(reason)
		} else {
			target.Resume()
		}
	}

	if text := notificationText(t); text != "" && g.notifier != nil {
		meta := map[string]string{
			interfaces.MetaSignature: "health:" + string(t),
			"kind":                   "health",
		}
		if err := g.notifier.Send(context.Background(), text, meta); err != nil {
			g.logger.Warn().Err(err).Str("transition", string(t)).Msg("Failed to send health notification")
		}
	}
}

func notificationText(t Transition) string {
	switch t {
	case TransitionOffline:
		return "Portal unreachable, collection paused"
	case TransitionStable:
		return "Portal reachable again"
	case TransitionLogout:
		return "Portal session logged out, collection paused"
	case TransitionLogin:
		return "Portal session logged in"
	}
	return ""
}
