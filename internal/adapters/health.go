package adapters

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/railrun/railrun/internal/errs"
)

// HealthState is one adapter's operational status as seen by the registry
type HealthState struct {
	Adapter       string    `json:"adapter"`
	Enabled       bool      `json:"enabled"`
	DisabledUntil time.Time `json:"disabled_until,omitempty"`
	AuthLocked    bool      `json:"auth_locked"`
	LastTick      time.Time `json:"last_tick,omitempty"`
	LastEdgeCount int       `json:"last_edge_count"`
	LastErrors    int       `json:"last_errors"`
	ConsecutiveOK int       `json:"consecutive_ok"`
}

// healthTracker applies the disable policy: permanent errors park the
// adapter for a doubling backoff window (30s initial, 10m cap); auth
// errors park it until process restart or credential rotation.
type healthTracker struct {
	mu     sync.Mutex
	states map[string]*trackerEntry
}

type trackerEntry struct {
	state   HealthState
	backoff *backoff.ExponentialBackOff
}

func newHealthTracker() *healthTracker {
	return &healthTracker{states: make(map[string]*trackerEntry)}
}

func (h *healthTracker) entry(name string) *trackerEntry {
	e, ok := h.states[name]
	if !ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 30 * time.Second
		b.MaxInterval = 10 * time.Minute
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0 // never give up, just cap the interval
		e = &trackerEntry{state: HealthState{Adapter: name, Enabled: true}, backoff: b}
		h.states[name] = e
	}
	return e
}

// Runnable reports whether the adapter may tick now
func (h *healthTracker) Runnable(name string, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.entry(name)
	if e.state.AuthLocked {
		return false
	}
	if !e.state.Enabled && now.Before(e.state.DisabledUntil) {
		return false
	}
	e.state.Enabled = true
	return true
}

// RecordTick folds one tick's outcome into the adapter's health. A tick
// containing a permanent error disables the adapter for the current
// backoff window; an auth error locks it out entirely.
func (h *healthTracker) RecordTick(name string, now time.Time, result TickResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.entry(name)
	e.state.LastTick = now
	e.state.LastEdgeCount = len(result.Edges)
	e.state.LastErrors = len(result.Errors)

	var permanent, auth bool
	for _, ce := range result.Errors {
		switch ce.Kind {
		case errs.KindProviderPermanent:
			permanent = true
		case errs.KindProviderAuth:
			auth = true
		}
	}

	switch {
	case auth:
		e.state.AuthLocked = true
		e.state.Enabled = false
		log.Warn().Str("adapter", name).Msg("Adapter disabled until credential rotation")
	case permanent:
		wait := e.backoff.NextBackOff()
		e.state.Enabled = false
		e.state.DisabledUntil = now.Add(wait)
		e.state.ConsecutiveOK = 0
		log.Warn().Str("adapter", name).Dur("backoff", wait).Msg("Adapter disabled for backoff window")
	case len(result.Errors) == 0:
		e.state.ConsecutiveOK++
		if e.state.ConsecutiveOK >= 2 {
			e.backoff.Reset()
		}
	}
}

// ResetAuth clears an auth lock after credential rotation
func (h *healthTracker) ResetAuth(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.entry(name)
	e.state.AuthLocked = false
	e.state.Enabled = true
}

// Snapshot returns a copy of every adapter's health state
func (h *healthTracker) Snapshot() []HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HealthState, 0, len(h.states))
	for _, e := range h.states {
		out = append(out, e.state)
	}
	return out
}
