package execution

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railrun/railrun/internal/adapters"
	"github.com/railrun/railrun/internal/clock"
	"github.com/railrun/railrun/internal/config"
	"github.com/railrun/railrun/internal/errs"
	"github.com/railrun/railrun/internal/model"
	"github.com/railrun/railrun/internal/secrets"
)

func testSegment(class model.SegmentClass, provider string) model.RouteSegment {
	return model.RouteSegment{
		Class:            class,
		FromAsset:        "USD",
		ToAsset:          "EUR",
		Provider:         provider,
		Cost:             model.Cost{FeePercent: 1.5, FixedFee: 2.50, EffectiveRate: 0.85},
		Latency:          model.Latency{MinMinutes: 1, MaxMinutes: 5},
		ReliabilityScore: 0.95,
		ObservedAt:       time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
	}
}

func simDispatcher(caps map[string]float64) *Dispatcher {
	cfg := config.Default().Execution
	cfg.PerClassAmountCap = caps
	clk := clock.NewFake(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC))
	return NewDispatcher(cfg, adapters.Deps{Credentials: secrets.Static{}, Clock: clk}, nil, clk)
}

func TestSimExecute_Trajectory(t *testing.T) {
	d := simDispatcher(nil)
	seg := testSegment(model.ClassFX, "frankfurter")

	outcome, err := d.Execute(context.Background(), seg, 1000)
	require.NoError(t, err)

	want := (1000 - 2.50) * (1 - 1.5/100) * 0.85
	assert.Equal(t, model.OutcomeSucceeded, outcome.Status)
	assert.InDelta(t, want, outcome.AmountOut, 1e-9)
	assert.InDelta(t, 1000-outcome.AmountOut/0.85, outcome.FeesPaid, 1e-9)
	assert.True(t, strings.HasPrefix(outcome.ProviderTxnID, "sim-"))
	assert.Equal(t, 1, outcome.Attempts)
	require.NotNil(t, outcome.ConfirmedAt)
}

func TestSimExecute_InfeasibleAmount(t *testing.T) {
	d := simDispatcher(nil)
	seg := testSegment(model.ClassFX, "frankfurter")

	outcome, err := d.Execute(context.Background(), seg, 2.00) // below the fixed fee
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Equal(t, model.OutcomeFailed, outcome.Status)
}

func TestDispatch_Validation(t *testing.T) {
	d := simDispatcher(map[string]float64{"fx": 500})

	_, err := d.Execute(context.Background(), testSegment(model.ClassFX, "p"), 0)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = d.Execute(context.Background(), testSegment(model.ClassFX, "p"), 1000)
	require.Error(t, err, "amount above the fx class cap")
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = d.Execute(context.Background(), testSegment(model.SegmentClass("teleport"), "p"), 100)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

// fakeClient scripts one provider conversation: create errors consumed in
// order, then a successful create; status responses consumed in order with
// the last repeated.
type fakeClient struct {
	createErrs []error
	fundErr    error
	statuses   []*adapters.Transfer
	statusErrs []error

	createCalls int
	fundCalls   int
	statusCalls int
	cancelled   []string
}

func (f *fakeClient) Create(ctx context.Context, deps adapters.Deps, req adapters.TransferRequest) (*adapters.Transfer, error) {
	f.createCalls++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		return nil, err
	}
	return &adapters.Transfer{TxnID: "txn-1", Status: adapters.TransferPending}, nil
}

func (f *fakeClient) Fund(ctx context.Context, deps adapters.Deps, txnID string) error {
	f.fundCalls++
	return f.fundErr
}

func (f *fakeClient) Status(ctx context.Context, deps adapters.Deps, txnID string) (*adapters.Transfer, error) {
	f.statusCalls++
	if len(f.statusErrs) > 0 {
		err := f.statusErrs[0]
		f.statusErrs = f.statusErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.statuses) == 0 {
		return &adapters.Transfer{TxnID: txnID, Status: adapters.TransferPending}, nil
	}
	s := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return s, nil
}

func (f *fakeClient) Cancel(ctx context.Context, deps adapters.Deps, txnID string) error {
	f.cancelled = append(f.cancelled, txnID)
	return nil
}

func realDispatcher(client *fakeClient, maxPolls int) *Dispatcher {
	cfg := config.Default().Execution
	cfg.Mode = config.ModeReal
	cfg.MaxPolls = maxPolls
	cfg.PollInterval = 5 * time.Second
	clk := clock.NewFake(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC))
	deps := adapters.Deps{Credentials: secrets.Static{}, Clock: clk}
	return NewDispatcher(cfg, deps, map[string]adapters.ExecutionClient{"kraken": client}, clk)
}

func settled(amountOut float64) *adapters.Transfer {
	return &adapters.Transfer{TxnID: "txn-1", Status: adapters.TransferSettled, AmountOut: amountOut, FeesPaid: 3.25}
}

func TestProviderExecute_RetriesTransientCreate(t *testing.T) {
	client := &fakeClient{
		createErrs: []error{
			errs.Provider(errs.KindProviderTransient, "kraken", nil, "flaky"),
			errs.Provider(errs.KindRateLimited, "kraken", nil, "slow down"),
		},
		statuses: []*adapters.Transfer{settled(840)},
	}
	d := realDispatcher(client, 5)

	outcome, err := d.Execute(context.Background(), testSegment(model.ClassCrypto, "kraken"), 1000)
	require.NoError(t, err)

	assert.Equal(t, 3, client.createCalls, "initial attempt plus two retries")
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, model.OutcomeSucceeded, outcome.Status)
}

func TestProviderExecute_PermanentCreateNotRetried(t *testing.T) {
	client := &fakeClient{
		createErrs: []error{errs.Provider(errs.KindProviderPermanent, "kraken", nil, "pair delisted")},
	}
	d := realDispatcher(client, 5)

	outcome, err := d.Execute(context.Background(), testSegment(model.ClassCrypto, "kraken"), 1000)
	require.Error(t, err)

	assert.Equal(t, 1, client.createCalls)
	assert.Equal(t, errs.KindProviderPermanent, errs.KindOf(err))
	assert.Equal(t, model.OutcomeFailed, outcome.Status)
}

func TestProviderExecute_RetryBudgetExhausted(t *testing.T) {
	transient := errs.Provider(errs.KindProviderTransient, "kraken", nil, "flaky")
	client := &fakeClient{createErrs: []error{transient, transient, transient}}
	d := realDispatcher(client, 5)

	outcome, err := d.Execute(context.Background(), testSegment(model.ClassCrypto, "kraken"), 1000)
	require.Error(t, err)

	assert.Equal(t, 3, client.createCalls, "the schedule allows two retries")
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, errs.KindProviderTransient, errs.KindOf(err))
}

func TestProviderExecute_FundingFailed(t *testing.T) {
	client := &fakeClient{fundErr: errs.Provider(errs.KindProviderPermanent, "kraken", nil, "account frozen")}
	d := realDispatcher(client, 5)

	outcome, err := d.Execute(context.Background(), testSegment(model.ClassBankRail, "kraken"), 1000)
	require.Error(t, err)

	assert.Equal(t, errs.KindFundingFailed, errs.KindOf(err))
	assert.Equal(t, model.OutcomeFailed, outcome.Status)
	assert.Equal(t, "txn-1", outcome.ProviderTxnID, "the created transfer id survives for reconciliation")
}

func TestProviderExecute_NoFundingForCrypto(t *testing.T) {
	client := &fakeClient{
		fundErr:  errs.Provider(errs.KindProviderPermanent, "kraken", nil, "must not be called"),
		statuses: []*adapters.Transfer{settled(840)},
	}
	d := realDispatcher(client, 5)

	_, err := d.Execute(context.Background(), testSegment(model.ClassCrypto, "kraken"), 1000)
	require.NoError(t, err)
	assert.Zero(t, client.fundCalls)
}

func TestProviderExecute_ConfirmationTimeout(t *testing.T) {
	client := &fakeClient{} // status stays pending forever
	d := realDispatcher(client, 3)

	outcome, err := d.Execute(context.Background(), testSegment(model.ClassCrypto, "kraken"), 1000)
	require.Error(t, err)

	assert.Equal(t, errs.KindConfirmationTimeout, errs.KindOf(err))
	assert.Equal(t, 3, client.statusCalls)
	assert.Equal(t, model.OutcomeFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "3 polls")
}

func TestProviderExecute_TransientStatusCostsOnePoll(t *testing.T) {
	client := &fakeClient{
		statusErrs: []error{errs.Provider(errs.KindProviderTransient, "kraken", nil, "blip")},
		statuses:   []*adapters.Transfer{settled(840)},
	}
	d := realDispatcher(client, 2)

	outcome, err := d.Execute(context.Background(), testSegment(model.ClassCrypto, "kraken"), 1000)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, outcome.Status)
	assert.Equal(t, 2, client.statusCalls)
}

func TestProviderExecute_SettledAmounts(t *testing.T) {
	t.Run("provider reported", func(t *testing.T) {
		client := &fakeClient{statuses: []*adapters.Transfer{settled(838.75)}}
		d := realDispatcher(client, 2)

		outcome, err := d.Execute(context.Background(), testSegment(model.ClassCrypto, "kraken"), 1000)
		require.NoError(t, err)
		assert.Equal(t, 838.75, outcome.AmountOut)
		assert.Equal(t, 3.25, outcome.FeesPaid)
	})

	t.Run("fallback to edge trajectory", func(t *testing.T) {
		client := &fakeClient{statuses: []*adapters.Transfer{
			{TxnID: "txn-1", Status: adapters.TransferSettled},
		}}
		d := realDispatcher(client, 2)
		seg := testSegment(model.ClassCrypto, "kraken")

		outcome, err := d.Execute(context.Background(), seg, 1000)
		require.NoError(t, err)
		want, applyErr := seg.Apply(1000)
		require.NoError(t, applyErr)
		assert.InDelta(t, want, outcome.AmountOut, 1e-9)
	})
}

func TestProviderExecute_FailedAtProvider(t *testing.T) {
	client := &fakeClient{statuses: []*adapters.Transfer{
		{TxnID: "txn-1", Status: adapters.TransferFailed},
	}}
	d := realDispatcher(client, 2)

	outcome, err := d.Execute(context.Background(), testSegment(model.ClassCrypto, "kraken"), 1000)
	require.Error(t, err)
	assert.Equal(t, errs.KindProviderPermanent, errs.KindOf(err))
	assert.Equal(t, model.OutcomeFailed, outcome.Status)
}

func TestProviderExecute_UnknownProvider(t *testing.T) {
	d := realDispatcher(&fakeClient{}, 2)

	_, err := d.Execute(context.Background(), testSegment(model.ClassCrypto, "nobody"), 1000)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotConfigured, errs.KindOf(err))
}

func TestDispatcherCancel_ReachesClient(t *testing.T) {
	client := &fakeClient{}
	d := realDispatcher(client, 2)

	require.NoError(t, d.Cancel(context.Background(), testSegment(model.ClassCrypto, "kraken"), "txn-9"))
	assert.Equal(t, []string{"txn-9"}, client.cancelled)
}

func TestDispatch_SegmentTimeoutBoundsExecution(t *testing.T) {
	client := &fakeClient{} // status stays pending forever
	cfg := config.Default().Execution
	cfg.Mode = config.ModeReal
	cfg.SegmentTimeout = time.Nanosecond
	clk := clock.NewFake(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC))
	deps := adapters.Deps{Credentials: secrets.Static{}, Clock: clk}
	d := NewDispatcher(cfg, deps, map[string]adapters.ExecutionClient{"kraken": client}, clk)

	outcome, err := d.Execute(context.Background(), testSegment(model.ClassCrypto, "kraken"), 1000)
	require.Error(t, err)

	assert.Equal(t, model.OutcomeFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "context deadline exceeded")
	assert.Less(t, client.statusCalls, cfg.MaxPolls, "the deadline cuts polling short")
}
