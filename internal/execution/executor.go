package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/railrun/railrun/internal/adapters"
	"github.com/railrun/railrun/internal/clock"
	"github.com/railrun/railrun/internal/config"
	"github.com/railrun/railrun/internal/errs"
	"github.com/railrun/railrun/internal/model"
	"github.com/railrun/railrun/internal/telemetry"
)

// retrySchedule is the backoff between transient-failure retries of one
// provider call: two retries after the initial attempt.
var retrySchedule = []time.Duration{1 * time.Second, 4 * time.Second}

// SegmentExecutor moves one amount across one edge and reports the
// outcome. A returned error classifies the failure; the outcome carries
// whatever partial facts exist (txn id, attempts) even on failure.
type SegmentExecutor interface {
	Execute(ctx context.Context, seg model.RouteSegment, amountIn float64) (model.SegmentOutcome, error)
	// Cancel best-effort cancels an in-flight provider transaction.
	// Providers without pre-settlement cancellation return NotSupported.
	Cancel(ctx context.Context, seg model.RouteSegment, txnID string) error
}

// Dispatcher validates segment inputs and routes each segment to the
// executor registered for its class. There is exactly one executor per
// class and no shared state between them.
type Dispatcher struct {
	byClass        map[model.SegmentClass]SegmentExecutor
	caps           map[string]float64
	segmentTimeout time.Duration
}

// NewDispatcher builds the per-class dispatch table for the configured
// execution mode. Simulation mode serves every class from the local
// simulator; real mode serves every class through its provider client.
func NewDispatcher(cfg config.ExecutionConfig, deps adapters.Deps, clients map[string]adapters.ExecutionClient, clk clock.Clock) *Dispatcher {
	d := &Dispatcher{
		byClass:        make(map[model.SegmentClass]SegmentExecutor),
		caps:           cfg.PerClassAmountCap,
		segmentTimeout: cfg.SegmentTimeout,
	}

	classes := []model.SegmentClass{
		model.ClassFX, model.ClassCrypto, model.ClassBridge,
		model.ClassOnRamp, model.ClassOffRamp, model.ClassBankRail,
	}
	for _, class := range classes {
		if cfg.Mode == config.ModeReal {
			d.byClass[class] = &providerExecutor{
				deps:         deps,
				clients:      clients,
				clock:        clk,
				pollInterval: cfg.PollInterval,
				maxPolls:     cfg.MaxPolls,
			}
		} else {
			d.byClass[class] = &simExecutor{clock: clk}
		}
	}
	return d
}

// Execute validates and dispatches one segment
func (d *Dispatcher) Execute(ctx context.Context, seg model.RouteSegment, amountIn float64) (model.SegmentOutcome, error) {
	if amountIn <= 0 {
		return failedOutcome(amountIn, 0, "amount must be positive"),
			errs.New(errs.KindValidation, "segment amount %.6f must be positive", amountIn)
	}
	if limit, ok := d.caps[string(seg.Class)]; ok && amountIn > limit {
		return failedOutcome(amountIn, 0, "amount exceeds class cap"),
			errs.New(errs.KindValidation, "amount %.2f exceeds %s cap %.2f", amountIn, seg.Class, limit)
	}
	ex, ok := d.byClass[seg.Class]
	if !ok {
		return failedOutcome(amountIn, 0, "unknown segment class"),
			errs.New(errs.KindValidation, "segment class %q has no executor", seg.Class)
	}

	// the segment timeout bounds the whole create, fund, poll sequence
	if d.segmentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.segmentTimeout)
		defer cancel()
	}

	outcome, err := ex.Execute(ctx, seg, amountIn)
	telemetry.SegmentsExecuted.WithLabelValues(string(seg.Class), string(outcome.Status)).Inc()
	return outcome, err
}

// Cancel dispatches a best-effort cancel for an in-flight segment
func (d *Dispatcher) Cancel(ctx context.Context, seg model.RouteSegment, txnID string) error {
	ex, ok := d.byClass[seg.Class]
	if !ok {
		return errs.New(errs.KindValidation, "segment class %q has no executor", seg.Class)
	}
	return ex.Cancel(ctx, seg, txnID)
}

// simExecutor computes the segment outcome locally and deterministically:
// the exact notional trajectory, no I/O, immediate confirmation.
type simExecutor struct {
	clock clock.Clock
}

func (s *simExecutor) Execute(ctx context.Context, seg model.RouteSegment, amountIn float64) (model.SegmentOutcome, error) {
	if err := ctx.Err(); err != nil {
		return failedOutcome(amountIn, 1, err.Error()), errs.Wrap(errs.KindInternal, err, "context cancelled")
	}

	out, err := seg.Apply(amountIn)
	if err != nil {
		return failedOutcome(amountIn, 1, err.Error()),
			errs.Wrap(errs.KindValidation, err, "segment infeasible at amount")
	}

	now := s.clock.Now()
	return model.SegmentOutcome{
		ProviderTxnID: "sim-" + uuid.NewString(),
		Status:        model.OutcomeSucceeded,
		AmountIn:      amountIn,
		AmountOut:     out,
		FeesPaid:      amountIn - out/seg.Cost.EffectiveRate,
		Attempts:      1,
		ConfirmedAt:   &now,
	}, nil
}

func (s *simExecutor) Cancel(ctx context.Context, seg model.RouteSegment, txnID string) error {
	return nil // simulated transfers settle instantly, nothing in flight
}

// providerExecutor drives a real provider through the create, fund, poll
// sequence. Funding only happens for classes whose provider model needs
// it; confirmation polls until the provider reports terminal or the poll
// budget runs out.
type providerExecutor struct {
	deps         adapters.Deps
	clients      map[string]adapters.ExecutionClient
	clock        clock.Clock
	pollInterval time.Duration
	maxPolls     int
}

func (p *providerExecutor) Execute(ctx context.Context, seg model.RouteSegment, amountIn float64) (model.SegmentOutcome, error) {
	client, ok := p.clients[seg.Provider]
	if !ok {
		return failedOutcome(amountIn, 0, "provider has no execution client"),
			errs.Provider(errs.KindNotConfigured, seg.Provider, nil, "no execution client registered")
	}

	req := adapters.TransferRequest{Edge: seg, AmountIn: amountIn}

	// create, retrying transient failures on the fixed schedule
	var transfer *adapters.Transfer
	var err error
	attempts := 0
	for {
		attempts++
		transfer, err = client.Create(ctx, p.deps, req)
		if err == nil {
			break
		}
		retryIdx := attempts - 1
		if !errs.Retryable(err) || retryIdx >= len(retrySchedule) {
			return failedOutcome(amountIn, attempts, err.Error()), err
		}
		log.Warn().Str("provider", seg.Provider).Int("attempt", attempts).
			Err(err).Msg("Transfer create failed, retrying")
		if sleepErr := p.clock.Sleep(ctx, retrySchedule[retryIdx]); sleepErr != nil {
			return failedOutcome(amountIn, attempts, err.Error()), err
		}
	}

	outcome := model.SegmentOutcome{
		ProviderTxnID: transfer.TxnID,
		AmountIn:      amountIn,
		Attempts:      attempts,
	}

	// fund is a separate step for the bank-rail family; a created but
	// unfunded transfer moves nothing
	if adapters.RequiresFunding(seg.Class) {
		if err := client.Fund(ctx, p.deps, transfer.TxnID); err != nil {
			outcome.Status = model.OutcomeFailed
			outcome.Error = err.Error()
			return outcome, errs.Provider(errs.KindFundingFailed, seg.Provider, err,
				"transfer %s created but funding failed", transfer.TxnID)
		}
	}

	// confirmation polling
	for poll := 0; poll < p.maxPolls; poll++ {
		if err := p.clock.Sleep(ctx, p.pollInterval); err != nil {
			outcome.Status = model.OutcomeFailed
			outcome.Error = err.Error()
			return outcome, errs.Provider(errs.KindInternal, seg.Provider, err, "polling interrupted")
		}

		status, err := client.Status(ctx, p.deps, transfer.TxnID)
		if err != nil {
			if errs.Retryable(err) {
				continue // a transient status failure costs one poll, not the segment
			}
			outcome.Status = model.OutcomeFailed
			outcome.Error = err.Error()
			return outcome, err
		}

		switch status.Status {
		case adapters.TransferSettled:
			now := p.clock.Now()
			outcome.Status = model.OutcomeSucceeded
			outcome.AmountOut = settledAmount(seg, amountIn, status)
			outcome.FeesPaid = status.FeesPaid
			outcome.ConfirmedAt = &now
			return outcome, nil
		case adapters.TransferFailed:
			outcome.Status = model.OutcomeFailed
			outcome.Error = "provider reported transfer failed"
			return outcome, errs.Provider(errs.KindProviderPermanent, seg.Provider, nil,
				"transfer %s failed at provider", transfer.TxnID)
		case adapters.TransferCancelled:
			outcome.Status = model.OutcomeCancelled
			return outcome, errs.Provider(errs.KindProviderPermanent, seg.Provider, nil,
				"transfer %s cancelled at provider", transfer.TxnID)
		}
	}

	// budget exhausted; the transfer may still settle asynchronously and
	// is left for reconciliation
	outcome.Status = model.OutcomeFailed
	outcome.Error = fmt.Sprintf("no confirmation after %d polls", p.maxPolls)
	return outcome, errs.Provider(errs.KindConfirmationTimeout, seg.Provider, nil,
		"transfer %s unconfirmed after %d polls", transfer.TxnID, p.maxPolls)
}

func (p *providerExecutor) Cancel(ctx context.Context, seg model.RouteSegment, txnID string) error {
	client, ok := p.clients[seg.Provider]
	if !ok {
		return errs.Provider(errs.KindNotConfigured, seg.Provider, nil, "no execution client registered")
	}
	return client.Cancel(ctx, p.deps, txnID)
}

// settledAmount prefers the provider-reported output, falling back to the
// edge trajectory when the provider omits it.
func settledAmount(seg model.RouteSegment, amountIn float64, t *adapters.Transfer) float64 {
	if t.AmountOut > 0 {
		return t.AmountOut
	}
	out, err := seg.Apply(amountIn)
	if err != nil {
		return 0
	}
	return out
}

func failedOutcome(amountIn float64, attempts int, msg string) model.SegmentOutcome {
	return model.SegmentOutcome{
		Status:   model.OutcomeFailed,
		AmountIn: amountIn,
		Attempts: attempts,
		Error:    msg,
	}
}
