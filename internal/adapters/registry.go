package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/railrun/railrun/internal/errs"
	"github.com/railrun/railrun/internal/model"
)

// Registry holds the configured adapters grouped by cadence class and owns
// their shared health tracking.
type Registry struct {
	adapters map[model.CadenceClass][]Adapter
	health   *healthTracker
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[model.CadenceClass][]Adapter),
		health:   newHealthTracker(),
	}
}

// Register adds an adapter under its cadence class
func (r *Registry) Register(a Adapter) error {
	for _, existing := range r.adapters[a.Cadence()] {
		if existing.Name() == a.Name() {
			return fmt.Errorf("adapter %s already registered", a.Name())
		}
	}
	r.adapters[a.Cadence()] = append(r.adapters[a.Cadence()], a)
	return nil
}

// ByCadence returns the adapters in a cadence class that are currently
// runnable under the health policy.
func (r *Registry) ByCadence(class model.CadenceClass, now time.Time) []Adapter {
	var out []Adapter
	for _, a := range r.adapters[class] {
		if r.health.Runnable(a.Name(), now) {
			out = append(out, a)
		}
	}
	return out
}

// All returns every registered adapter regardless of health
func (r *Registry) All() []Adapter {
	var out []Adapter
	for _, group := range r.adapters {
		out = append(out, group...)
	}
	return out
}

// RunTick executes one adapter's Fetch under the per-class deadline and
// records the outcome on its health state. Panics are absorbed into an
// empty result so a misbehaving adapter never takes down a tick.
func (r *Registry) RunTick(ctx context.Context, a Adapter, deps Deps) (result TickResult) {
	deadline := tickDeadline(a.Cadence())
	tickCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			result = TickResult{Errors: []CallError{{
				Provider: a.Name(),
				Kind:     errs.KindInternal,
				Message:  fmt.Sprintf("adapter panic: %v", rec),
			}}}
		}
		r.health.RecordTick(a.Name(), deps.Clock.Now(), result)
	}()

	result = a.Fetch(tickCtx, deps)
	result.Edges = NormalizeAll(result.Edges)
	return result
}

// Health returns the health snapshot for every adapter
func (r *Registry) Health() []HealthState {
	return r.health.Snapshot()
}

// ResetAuth clears an auth lockout after credentials rotate
func (r *Registry) ResetAuth(name string) {
	r.health.ResetAuth(name)
}
