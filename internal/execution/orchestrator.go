package execution

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/railrun/railrun/internal/clock"
	"github.com/railrun/railrun/internal/config"
	"github.com/railrun/railrun/internal/errs"
	"github.com/railrun/railrun/internal/model"
	"github.com/railrun/railrun/internal/routing"
	"github.com/railrun/railrun/internal/store"
	"github.com/railrun/railrun/internal/telemetry"
)

// CancelOptions parameterize a cancel control call. Rollback is reserved:
// settled segments are never reversed and requesting it is an error.
type CancelOptions struct {
	// CancelPending requests best-effort provider-side cancellation of
	// the most recent in-flight transaction.
	CancelPending bool
	Rollback      bool
}

// RerouteOptions parameterize an operator-triggered reroute
type RerouteOptions struct {
	// NewRoute installs an explicit replacement suffix. When nil,
	// FromCurrent re-solves from the current node ignoring thresholds.
	NewRoute    *model.Route
	FromCurrent bool
}

// entry is the orchestrator's per-execution unit: the record plus the
// control surface the run loop and the control operations share.
type entry struct {
	mu   sync.Mutex
	cond *sync.Cond
	rec  *model.ExecutionRecord

	pauseRequested bool
	inFlight       bool
	cancelPending  bool
	// cancels the run loop's context so an in-flight segment unblocks
	// immediately instead of draining its poll budget
	cancelRun context.CancelFunc
	// amount overrides installed by Modify, keyed by segment index
	overrides map[int]float64
}

// Orchestrator owns every ExecutionRecord and drives each through the
// state machine. All mutation happens under the per-record lock; callers
// only ever receive by-value snapshots.
type Orchestrator struct {
	mu      sync.Mutex
	records map[string]*entry
	order   []string

	dispatcher     *Dispatcher
	store          store.Store
	clock          clock.Clock
	rerouter       *Rerouter
	rerouteEnabled bool
	historyCap     int

	// called between segments with the record lock released; tests use it
	// to land control operations at exact boundaries
	boundaryHook func(executionID string, nextIndex int)
}

// NewOrchestrator creates the orchestrator. The rerouter may be nil when
// rerouting is disabled.
func NewOrchestrator(dispatcher *Dispatcher, st store.Store, clk clock.Clock, rerouter *Rerouter, cfg config.ExecutionConfig) *Orchestrator {
	return &Orchestrator{
		records:        make(map[string]*entry),
		dispatcher:     dispatcher,
		store:          st,
		clock:          clk,
		rerouter:       rerouter,
		rerouteEnabled: cfg.RerouteEnabled && rerouter != nil,
		historyCap:     cfg.HistoryCap,
	}
}

// Create registers a new execution in pending state. The route is
// validated before any state exists; an invalid request creates nothing.
func (o *Orchestrator) Create(route model.Route, amount float64) (model.ExecutionRecord, error) {
	if amount <= 0 {
		return model.ExecutionRecord{}, errs.New(errs.KindValidation, "amount %.6f must be positive", amount)
	}
	if err := route.Validate(); err != nil {
		return model.ExecutionRecord{}, errs.Wrap(errs.KindValidation, err, "invalid route")
	}

	now := o.clock.Now()
	rec := &model.ExecutionRecord{
		ExecutionID:   uuid.NewString(),
		Route:         route,
		State:         model.StatePending,
		InitialAmount: amount,
		FinalAmount:   amount,
		FromAsset:     route.Source().Asset,
		ToAsset:       route.Target().Asset,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e := &entry{rec: rec, overrides: make(map[int]float64)}
	e.cond = sync.NewCond(&e.mu)

	o.mu.Lock()
	o.records[rec.ExecutionID] = e
	o.order = append(o.order, rec.ExecutionID)
	o.evictLocked()
	o.mu.Unlock()

	o.appendHistory(rec.ExecutionID, "", model.StatePending, 0, nil)
	log.Info().Str("execution_id", rec.ExecutionID).Int("segments", len(route.Segments)).
		Float64("amount", amount).Msg("Execution created")
	return rec.Clone(), nil
}

// Start creates the execution and drives it on a background goroutine
func (o *Orchestrator) Start(ctx context.Context, route model.Route, amount float64) (model.ExecutionRecord, error) {
	rec, err := o.Create(route, amount)
	if err != nil {
		return rec, err
	}
	go func() {
		if err := o.Run(ctx, rec.ExecutionID); err != nil {
			log.Warn().Str("execution_id", rec.ExecutionID).Err(err).Msg("Execution ended with error")
		}
	}()
	return rec, nil
}

// Run drives a pending execution to a terminal state. Returns the error
// that terminated a failed execution; a completed or cancelled run
// returns nil.
func (o *Orchestrator) Run(ctx context.Context, id string) error {
	e, err := o.entry(id)
	if err != nil {
		return err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	e.mu.Lock()
	if e.rec.State != model.StatePending {
		e.mu.Unlock()
		return errs.New(errs.KindPreconditionFailed, "execution %s already started in state %s", id, e.rec.State)
	}
	e.cancelRun = cancelRun
	o.transitionLocked(e, model.StateRunning, nil)
	e.mu.Unlock()

	for {
		e.mu.Lock()
		for e.rec.State == model.StatePaused {
			e.cond.Wait()
		}

		switch e.rec.State {
		case model.StateCancelling:
			o.finishCancelLocked(ctx, e)
			e.mu.Unlock()
			return nil
		case model.StateRunning:
		default:
			e.mu.Unlock()
			return nil
		}

		if e.pauseRequested {
			e.pauseRequested = false
			o.transitionLocked(e, model.StatePaused, nil)
			e.mu.Unlock()
			continue
		}

		idx := e.rec.CurrentIndex
		if idx >= len(e.rec.Route.Segments) {
			o.transitionLocked(e, model.StateCompleted, nil)
			e.mu.Unlock()
			return nil
		}

		seg := e.rec.Route.Segments[idx]
		amountIn := e.rec.FinalAmount
		if override, ok := e.overrides[idx]; ok {
			amountIn = override
		}
		e.inFlight = true
		e.mu.Unlock()

		outcome, execErr := o.dispatcher.Execute(runCtx, seg, amountIn)

		e.mu.Lock()
		e.inFlight = false
		o.setOutcomeLocked(e, idx, outcome)

		if execErr != nil || outcome.Status != model.OutcomeSucceeded {
			if e.rec.State == model.StateCancelling {
				// cancel raced or interrupted the segment; the cancel wins
				// the terminal state. Give the provider-side cancel hook a
				// chance to stop whatever was created.
				hookTxn := ""
				if e.cancelPending && outcome.ProviderTxnID != "" {
					hookTxn = outcome.ProviderTxnID
				}
				e.mu.Unlock()
				if hookTxn != "" {
					cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					if err := o.dispatcher.Cancel(cancelCtx, seg, hookTxn); err != nil {
						log.Debug().Str("execution_id", id).Err(err).Msg("In-flight cancel hook declined")
					}
					cancel()
				}
				continue
			}
			o.transitionLocked(e, model.StateFailed, &outcome)
			e.mu.Unlock()
			return execErr
		}

		if e.cancelPending && e.rec.State == model.StateCancelling {
			// segment settled while a provider-side cancel was requested;
			// try the hook anyway, the provider may still honor it
			txn := outcome.ProviderTxnID
			e.mu.Unlock()
			if err := o.dispatcher.Cancel(ctx, seg, txn); err != nil {
				log.Debug().Str("execution_id", id).Err(err).Msg("In-flight cancel hook declined")
			}
			e.mu.Lock()
		}

		e.rec.FinalAmount = outcome.AmountOut
		e.rec.CurrentIndex = idx + 1
		o.appendHistory(id, model.StateRunning, e.rec.State, e.rec.CurrentIndex, &outcome)
		nextIndex := e.rec.CurrentIndex
		e.mu.Unlock()

		if o.boundaryHook != nil {
			o.boundaryHook(id, nextIndex)
		}

		o.maybeReroute(e)
	}
}

// maybeReroute runs the between-segment reroute check when enabled
func (o *Orchestrator) maybeReroute(e *entry) {
	if !o.rerouteEnabled {
		return
	}

	e.mu.Lock()
	if e.rec.State != model.StateRunning || e.pauseRequested ||
		e.rec.CurrentIndex >= len(e.rec.Route.Segments) {
		e.mu.Unlock()
		return
	}
	current := e.rec.Route.Segments[e.rec.CurrentIndex].From()
	target := e.rec.Route.Target()
	amount := e.rec.FinalAmount
	remaining := model.Route{Segments: append([]model.RouteSegment(nil), e.rec.Route.Segments[e.rec.CurrentIndex:]...)}
	id := e.rec.ExecutionID
	e.mu.Unlock()

	suffix := o.rerouter.Consider(current, target, amount, remaining)
	if suffix == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.State != model.StateRunning {
		return // a control operation landed during the re-solve
	}
	o.transitionLocked(e, model.StateRerouting, nil)
	o.installSuffixLocked(e, *suffix)
	o.transitionLocked(e, model.StateRunning, nil)
	telemetry.ReroutesTriggered.Inc()
	log.Info().Str("execution_id", id).Int("new_segments", len(suffix.Segments)).Msg("Reroute installed")
}

// installSuffixLocked replaces the unexecuted remainder of the route with
// the new path. The executed prefix and its outcomes are untouched;
// overrides for replaced segments are dropped.
func (o *Orchestrator) installSuffixLocked(e *entry, suffix model.Route) {
	prefix := e.rec.Route.Segments[:e.rec.CurrentIndex]
	e.rec.Route.Segments = append(append([]model.RouteSegment(nil), prefix...), suffix.Segments...)
	for idx := range e.overrides {
		if idx >= e.rec.CurrentIndex {
			delete(e.overrides, idx)
		}
	}
}

// Pause requests a pause at the next segment boundary. A segment in
// flight is never interrupted.
func (o *Orchestrator) Pause(id string) (model.ExecutionRecord, error) {
	e, err := o.entry(id)
	if err != nil {
		return model.ExecutionRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.State != model.StateRunning {
		return model.ExecutionRecord{}, errs.New(errs.KindPreconditionFailed,
			"cannot pause execution in state %s", e.rec.State)
	}
	if e.inFlight {
		e.pauseRequested = true
	} else {
		o.transitionLocked(e, model.StatePaused, nil)
	}
	return e.rec.Clone(), nil
}

// Resume continues a paused execution from its current index
func (o *Orchestrator) Resume(id string) (model.ExecutionRecord, error) {
	e, err := o.entry(id)
	if err != nil {
		return model.ExecutionRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.State != model.StatePaused && !(e.rec.State == model.StateRunning && e.pauseRequested) {
		return model.ExecutionRecord{}, errs.New(errs.KindPreconditionFailed,
			"cannot resume execution in state %s", e.rec.State)
	}
	e.pauseRequested = false
	if e.rec.State == model.StatePaused {
		o.transitionLocked(e, model.StateRunning, nil)
	}
	e.cond.Broadcast()
	return e.rec.Clone(), nil
}

// Cancel halts further segments. Already-settled segments stay settled;
// the reserved rollback parameter is rejected.
func (o *Orchestrator) Cancel(ctx context.Context, id string, opts CancelOptions) (model.ExecutionRecord, error) {
	if opts.Rollback {
		return model.ExecutionRecord{}, errs.New(errs.KindNotSupported,
			"rollback of settled segments is not supported")
	}
	e, err := o.entry(id)
	if err != nil {
		return model.ExecutionRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.rec.State {
	case model.StatePending, model.StatePaused:
		o.transitionLocked(e, model.StateCancelling, nil)
		o.finishCancelLocked(ctx, e)
		e.cond.Broadcast()
	case model.StateRunning:
		e.cancelPending = opts.CancelPending
		o.transitionLocked(e, model.StateCancelling, nil)
		if e.inFlight {
			// unblock the in-flight segment instead of waiting out its
			// poll budget; the run loop lands the terminal state
			if e.cancelRun != nil {
				e.cancelRun()
			}
		} else {
			o.finishCancelLocked(ctx, e)
		}
	default:
		return model.ExecutionRecord{}, errs.New(errs.KindPreconditionFailed,
			"cannot cancel execution in state %s", e.rec.State)
	}
	return e.rec.Clone(), nil
}

// finishCancelLocked marks every unexecuted segment skipped and lands the
// terminal cancelled state. A segment that already recorded an outcome,
// such as one that failed while the cancel landed, keeps it.
func (o *Orchestrator) finishCancelLocked(ctx context.Context, e *entry) {
	for idx := e.rec.CurrentIndex; idx < len(e.rec.Route.Segments); idx++ {
		if idx < len(e.rec.Outcomes) && e.rec.Outcomes[idx].Status != "" {
			continue
		}
		o.setOutcomeLocked(e, idx, model.SegmentOutcome{Status: model.OutcomeSkipped})
	}
	o.transitionLocked(e, model.StateCancelled, nil)
}

// Reroute installs a new remaining route on operator request. With an
// explicit route the suffix must connect the current node to the original
// target; with FromCurrent the solver is consulted directly, bypassing
// the thresholds.
func (o *Orchestrator) Reroute(id string, opts RerouteOptions) (model.ExecutionRecord, error) {
	e, err := o.entry(id)
	if err != nil {
		return model.ExecutionRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.State != model.StateRunning && e.rec.State != model.StatePaused {
		return model.ExecutionRecord{}, errs.New(errs.KindPreconditionFailed,
			"cannot reroute execution in state %s", e.rec.State)
	}
	if e.inFlight {
		return model.ExecutionRecord{}, errs.New(errs.KindPreconditionFailed,
			"cannot reroute while a segment is in flight")
	}
	if e.rec.CurrentIndex >= len(e.rec.Route.Segments) {
		return model.ExecutionRecord{}, errs.New(errs.KindPreconditionFailed,
			"no remaining segments to reroute")
	}

	current := e.rec.Route.Segments[e.rec.CurrentIndex].From()
	target := e.rec.Route.Target()

	var suffix model.Route
	switch {
	case opts.NewRoute != nil:
		suffix = *opts.NewRoute
		if err := suffix.Validate(); err != nil {
			return model.ExecutionRecord{}, errs.Wrap(errs.KindValidation, err, "invalid replacement route")
		}
		if len(suffix.Segments) == 0 || suffix.Source() != current || suffix.Target() != target {
			return model.ExecutionRecord{}, errs.New(errs.KindValidation,
				"replacement route must connect %s to %s", current, target)
		}
	case opts.FromCurrent:
		if o.rerouter == nil {
			return model.ExecutionRecord{}, errs.New(errs.KindNotConfigured, "no solver configured for reroute")
		}
		result, err := o.rerouter.Solver.Solve(routing.Request{
			Source: current, Target: target, Amount: e.rec.FinalAmount,
		}, o.rerouter.Edges.CurrentEdges())
		if err != nil {
			return model.ExecutionRecord{}, err
		}
		suffix = result.Best.Route
	default:
		return model.ExecutionRecord{}, errs.New(errs.KindValidation,
			"reroute requires a new route or from_current")
	}

	prior := e.rec.State
	o.transitionLocked(e, model.StateRerouting, nil)
	o.installSuffixLocked(e, suffix)
	o.transitionLocked(e, prior, nil)
	telemetry.ReroutesTriggered.Inc()
	return e.rec.Clone(), nil
}

// Modify overrides the input amount of a segment that has not started.
// Started or completed segments reject the change.
func (o *Orchestrator) Modify(id string, segmentIndex int, newAmount float64) (model.ExecutionRecord, error) {
	if newAmount <= 0 {
		return model.ExecutionRecord{}, errs.New(errs.KindValidation, "amount %.6f must be positive", newAmount)
	}
	e, err := o.entry(id)
	if err != nil {
		return model.ExecutionRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.State.Terminal() {
		return model.ExecutionRecord{}, errs.New(errs.KindPreconditionFailed,
			"cannot modify execution in state %s", e.rec.State)
	}
	if segmentIndex < 0 || segmentIndex >= len(e.rec.Route.Segments) {
		return model.ExecutionRecord{}, errs.New(errs.KindValidation,
			"segment index %d out of range", segmentIndex)
	}
	if segmentIndex < e.rec.CurrentIndex ||
		(segmentIndex == e.rec.CurrentIndex && e.inFlight) {
		return model.ExecutionRecord{}, errs.New(errs.KindPreconditionFailed,
			"segment %d already started", segmentIndex)
	}

	e.overrides[segmentIndex] = newAmount
	e.rec.UpdatedAt = o.clock.Now()
	return e.rec.Clone(), nil
}

// Get returns the latest snapshot of an execution
func (o *Orchestrator) Get(id string) (model.ExecutionRecord, error) {
	e, err := o.entry(id)
	if err != nil {
		return model.ExecutionRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

// List returns snapshots of every retained execution in creation order
func (o *Orchestrator) List() []model.ExecutionRecord {
	o.mu.Lock()
	ids := append([]string(nil), o.order...)
	o.mu.Unlock()

	out := make([]model.ExecutionRecord, 0, len(ids))
	for _, id := range ids {
		if rec, err := o.Get(id); err == nil {
			out = append(out, rec)
		}
	}
	return out
}

func (o *Orchestrator) entry(id string) (*entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.records[id]
	if !ok {
		return nil, errs.New(errs.KindValidation, "unknown execution %s", id)
	}
	return e, nil
}

// evictLocked enforces the history ring cap, never evicting a live record.
// The durable stream retains what the ring drops.
func (o *Orchestrator) evictLocked() {
	if o.historyCap <= 0 {
		return
	}
	for len(o.order) > o.historyCap {
		evicted := false
		for i, id := range o.order {
			e := o.records[id]
			e.mu.Lock()
			terminal := e.rec.State.Terminal()
			e.mu.Unlock()
			if terminal {
				delete(o.records, id)
				o.order = append(o.order[:i], o.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return // every retained record is live; the ring may overflow
		}
	}
}

// transitionLocked moves the record to a new state, stamps it, and appends
// the transition to the durable history stream.
func (o *Orchestrator) transitionLocked(e *entry, next model.ExecutionState, outcome *model.SegmentOutcome) {
	old := e.rec.State
	e.rec.State = next
	e.rec.UpdatedAt = o.clock.Now()

	o.appendHistory(e.rec.ExecutionID, old, next, e.rec.CurrentIndex, outcome)
	log.Info().Str("execution_id", e.rec.ExecutionID).Str("from", string(old)).
		Str("to", string(next)).Int("index", e.rec.CurrentIndex).Msg("Execution transition")

	if next.Terminal() {
		telemetry.ExecutionsTotal.WithLabelValues(string(next)).Inc()
	}
}

// setOutcomeLocked records the outcome for a segment index, growing the
// outcome list as needed.
func (o *Orchestrator) setOutcomeLocked(e *entry, idx int, outcome model.SegmentOutcome) {
	for len(e.rec.Outcomes) <= idx {
		e.rec.Outcomes = append(e.rec.Outcomes, model.SegmentOutcome{})
	}
	e.rec.Outcomes[idx] = outcome
}

// appendHistory writes one transition to the execution_history stream.
// History writes are best-effort: a failed append is logged, never fatal.
func (o *Orchestrator) appendHistory(id string, old, next model.ExecutionState, index int, outcome *model.SegmentOutcome) {
	tr := model.TransitionRecord{
		ExecutionID:  id,
		OldState:     old,
		NewState:     next,
		CurrentIndex: index,
		Outcome:      outcome,
		Timestamp:    o.clock.Now(),
	}
	payload, err := json.Marshal(tr)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := o.store.Append(ctx, store.StreamExecutionHistory, payload); err != nil {
		log.Warn().Str("execution_id", id).Err(err).Msg("History append failed")
	}
}
