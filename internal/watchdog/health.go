// Package watchdog keeps the stream daemon alive.
package watchdog

import (
	"time"

	"github.com/Finithe-Phoenix/seeallene/internal/config"
)

type Health string

const (
	HealthOK       Health = "ok"
	HealthDegraded Health = "degraded"
	HealthDown     Health = "down"
)

type HealthState struct {
	Current              Health
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastTransitionAt     time.Time
}

// NextHealth advances the probe state machine by one observation. A
// daemon is declared down once the failure threshold is met inside the
// configured window, and only recovers after enough consecutive
// successes. The default threshold of one declares down on the first
// failed probe.
func NextHealth(cfg config.Config, state HealthState, success bool, now time.Time) HealthState {
	if state.Current == "" {
		state.Current = HealthOK
	}
	if state.LastTransitionAt.IsZero() {
		state.LastTransitionAt = now
	}

	if success {
		state.ConsecutiveSuccesses++
		state.ConsecutiveFailures = 0
		if (state.Current == HealthDegraded || state.Current == HealthDown) && state.ConsecutiveSuccesses >= cfg.RecoverSuccesses {
			state.Current = HealthOK
			state.LastTransitionAt = now
		}
		return state
	}

	state.ConsecutiveFailures++
	state.ConsecutiveSuccesses = 0
	switch state.Current {
	case HealthOK:
		state.Current = HealthDegraded
		state.LastTransitionAt = now
	case HealthDegraded:
		if now.Sub(state.LastTransitionAt) > cfg.DownWindow {
			// Failure window expired; start a new degraded window from this failure.
			state.ConsecutiveFailures = 1
			state.LastTransitionAt = now
		}
	case HealthDown:
		// keep down until enough successful probes arrive
	}
	// The threshold applies from any state, so a threshold of one
	// declares down on the very first failed probe.
	if state.Current != HealthDown && state.ConsecutiveFailures >= cfg.DownFailures {
		state.Current = HealthDown
		state.LastTransitionAt = now
	}
	return state
}
