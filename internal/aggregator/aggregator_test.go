package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railrun/railrun/internal/adapters"
	"github.com/railrun/railrun/internal/cache"
	"github.com/railrun/railrun/internal/clock"
	"github.com/railrun/railrun/internal/config"
	"github.com/railrun/railrun/internal/model"
	"github.com/railrun/railrun/internal/secrets"
	"github.com/railrun/railrun/internal/store"
)

var testPeriods = config.RefreshPeriods{FastSeconds: 2, SlowSeconds: 30, SnapshotSeconds: 60}

type fixedAdapter struct {
	name    string
	cadence model.CadenceClass
	edges   []model.RouteSegment
	block   chan struct{} // when set, Fetch blocks until closed
}

func (f *fixedAdapter) Name() string                { return f.name }
func (f *fixedAdapter) Cadence() model.CadenceClass { return f.cadence }
func (f *fixedAdapter) Fetch(ctx context.Context, deps adapters.Deps) adapters.TickResult {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	return adapters.TickResult{Edges: f.edges}
}

func edgeAt(provider string, rate float64, observed time.Time) model.RouteSegment {
	return model.RouteSegment{
		Class:       model.ClassCrypto,
		FromAsset:   "BTC",
		ToAsset:     "USD",
		FromNetwork: "kraken",
		ToNetwork:   "kraken",
		Provider:    provider,
		Cost:        model.Cost{EffectiveRate: rate},
		Latency:     model.Latency{MaxMinutes: 1},
		ObservedAt:  observed,
	}
}

func newTestAggregator(t *testing.T, adaptersList ...adapters.Adapter) (*Aggregator, store.Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC))
	registry := adapters.NewRegistry()
	for _, a := range adaptersList {
		require.NoError(t, registry.Register(a))
	}
	deps := adapters.Deps{Credentials: secrets.Static{}, Clock: clk}
	st := store.NewMemory()
	agg := New(registry, deps, cache.NewMemory(), st, testPeriods)
	return agg, st, clk
}

func TestTick_UpsertsEdges(t *testing.T) {
	clkTime := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	a := &fixedAdapter{name: "kraken", cadence: model.CadenceFast,
		edges: []model.RouteSegment{edgeAt("kraken", 64000, clkTime)}}
	agg, _, _ := newTestAggregator(t, a)

	agg.Tick(context.Background(), model.CadenceFast, 2*time.Second)

	edges := agg.CurrentEdges()
	require.Len(t, edges, 1)
	assert.Equal(t, 64000.0, edges[0].Cost.EffectiveRate)
}

func TestUpsert_NewerObservationWins(t *testing.T) {
	agg, _, clk := newTestAggregator(t)
	base := clk.Now()

	agg.Ingest([]model.RouteSegment{edgeAt("kraken", 64000, base)})
	agg.Ingest([]model.RouteSegment{edgeAt("kraken", 65000, base.Add(time.Second))})

	edges := agg.CurrentEdges()
	require.Len(t, edges, 1)
	assert.Equal(t, 65000.0, edges[0].Cost.EffectiveRate)
}

func TestUpsert_StaleObservationIgnored(t *testing.T) {
	agg, _, clk := newTestAggregator(t)
	base := clk.Now()

	agg.Ingest([]model.RouteSegment{edgeAt("kraken", 65000, base.Add(time.Second))})
	// a delayed retry delivering older data must not clobber the fresh edge
	agg.Ingest([]model.RouteSegment{edgeAt("kraken", 64000, base)})

	edges := agg.CurrentEdges()
	require.Len(t, edges, 1)
	assert.Equal(t, 65000.0, edges[0].Cost.EffectiveRate)
}

func TestUpsert_ConcurrentWritersKeepNewest(t *testing.T) {
	agg, _, clk := newTestAggregator(t)
	base := clk.Now()

	// stream pushes and tick upserts land on the same slot; whatever the
	// interleaving, the newest observation must survive
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			edge := edgeAt("kraken", 64000+float64(i), base.Add(time.Duration(i)*time.Millisecond))
			agg.Ingest([]model.RouteSegment{edge})
		}()
	}
	wg.Wait()

	edges := agg.CurrentEdges()
	require.Len(t, edges, 1)
	assert.Equal(t, 64049.0, edges[0].Cost.EffectiveRate)
	assert.True(t, edges[0].ObservedAt.Equal(base.Add(49*time.Millisecond)))
}

func TestUpsert_DistinctSlotsCoexist(t *testing.T) {
	agg, _, clk := newTestAggregator(t)
	now := clk.Now()

	other := edgeAt("otherdesk", 63900, now)
	agg.Ingest([]model.RouteSegment{edgeAt("kraken", 64000, now), other})

	assert.Len(t, agg.CurrentEdges(), 2, "same corridor, different providers")
}

func TestTick_SkipsWhenPreviousStillRunning(t *testing.T) {
	block := make(chan struct{})
	slow := &fixedAdapter{name: "slowpoke", cadence: model.CadenceFast, block: block}
	agg, _, _ := newTestAggregator(t, slow)

	started := make(chan struct{})
	go func() {
		close(started)
		agg.Tick(context.Background(), model.CadenceFast, 2*time.Second)
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // let the first tick take the slot

	// second tick for the same class returns immediately without running
	done := make(chan struct{})
	go func() {
		agg.Tick(context.Background(), model.CadenceFast, 2*time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("overlapping tick should be skipped, not queued")
	}

	close(block)
}

func TestSnapshot_AppendsAndReadsBack(t *testing.T) {
	agg, _, clk := newTestAggregator(t)
	ctx := context.Background()

	agg.Ingest([]model.RouteSegment{edgeAt("kraken", 64000, clk.Now())})
	require.NoError(t, agg.Snapshot(ctx))

	agg.Ingest([]model.RouteSegment{edgeAt("kraken", 65000, clk.Now().Add(time.Second))})
	require.NoError(t, agg.Snapshot(ctx))

	snap, err := agg.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(2), snap.TickID, "tick ids are monotonic")
	require.Len(t, snap.Edges, 1)
	assert.Equal(t, 65000.0, snap.Edges[0].Cost.EffectiveRate)
}

func TestLatestSnapshot_EmptyStore(t *testing.T) {
	agg, _, _ := newTestAggregator(t)
	snap, err := agg.LatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}
