package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/railrun/railrun/internal/adapters"
	"github.com/railrun/railrun/internal/cache"
	"github.com/railrun/railrun/internal/clock"
	"github.com/railrun/railrun/internal/config"
	"github.com/railrun/railrun/internal/model"
	"github.com/railrun/railrun/internal/store"
	"github.com/railrun/railrun/internal/telemetry"
)

const edgeKeyPrefix = "edges/"

// Aggregator owns the refresh cadence: it fans adapter ticks out
// concurrently per cadence class, normalizes and merges their edges, and
// persists results into the hot cache and the durable snapshot log. It is
// the only writer of edge state; routing reads by value snapshot.
type Aggregator struct {
	registry *adapters.Registry
	deps     adapters.Deps
	cache    cache.Cache
	store    store.Store
	clock    clock.Clock
	periods  config.RefreshPeriods

	tickID int64

	// one in-flight guard per cadence class: ticks are skipped, never queued
	running sync.Map

	// serializes upsert so the newer-wins compare and the write are one
	// step; ticks and push-fed streams write the same keys
	writeMu sync.Mutex
}

// New creates the aggregator
func New(registry *adapters.Registry, deps adapters.Deps, c cache.Cache, s store.Store, periods config.RefreshPeriods) *Aggregator {
	return &Aggregator{
		registry: registry,
		deps:     deps,
		cache:    c,
		store:    s,
		clock:    deps.Clock,
		periods:  periods,
	}
}

// Run drives the fast, slow, and snapshot loops until ctx ends
func (a *Aggregator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.loop(ctx, model.CadenceFast, time.Duration(a.periods.FastSeconds)*time.Second)
	})
	g.Go(func() error {
		return a.loop(ctx, model.CadenceSlow, time.Duration(a.periods.SlowSeconds)*time.Second)
	})
	g.Go(func() error {
		return a.snapshotLoop(ctx, time.Duration(a.periods.SnapshotSeconds)*time.Second)
	})

	return g.Wait()
}

func (a *Aggregator) loop(ctx context.Context, class model.CadenceClass, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	// prime once at startup so routing has edges before the first period
	a.Tick(ctx, class, period)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Tick(ctx, class, period)
		}
	}
}

// Tick runs one refresh for a cadence class. If the previous tick for the
// class is still in flight, this one is skipped and logged, not stacked.
func (a *Aggregator) Tick(ctx context.Context, class model.CadenceClass, period time.Duration) {
	if _, inFlight := a.running.LoadOrStore(class, true); inFlight {
		telemetry.TicksSkipped.WithLabelValues(string(class)).Inc()
		log.Warn().Str("class", string(class)).Msg("Tick skipped, previous still running")
		return
	}
	defer a.running.Delete(class)

	telemetry.TicksTotal.WithLabelValues(string(class)).Inc()

	now := a.clock.Now()
	group := a.registry.ByCadence(class, now)
	if len(group) == 0 {
		return
	}

	var mu sync.Mutex
	var merged []model.RouteSegment

	g, tickCtx := errgroup.WithContext(ctx)
	for _, ad := range group {
		ad := ad
		g.Go(func() error {
			result := a.registry.RunTick(tickCtx, ad, a.deps)
			for _, ce := range result.Errors {
				telemetry.AdapterErrors.WithLabelValues(ce.Provider, string(ce.Kind)).Inc()
				log.Warn().Str("adapter", ad.Name()).Str("kind", string(ce.Kind)).
					Str("error", ce.Message).Msg("Adapter produced no edges for this call")
			}
			mu.Lock()
			merged = append(merged, result.Edges...)
			mu.Unlock()
			return nil // adapter failures never fail the tick
		})
	}
	_ = g.Wait()

	ttl := 3 * period
	stored := a.upsert(merged, ttl)

	log.Debug().Str("class", string(class)).Int("adapters", len(group)).
		Int("edges", stored).Msg("Tick completed")
}

// Ingest implements the EdgeSink contract for push-fed streams; stream
// edges carry the fast-class TTL.
func (a *Aggregator) Ingest(edges []model.RouteSegment) {
	ttl := 3 * time.Duration(a.periods.FastSeconds) * time.Second
	a.upsert(edges, ttl)
}

// upsert writes edges into the hot cache under their key, enforcing the
// newer-wins guard: an edge observed earlier than the cached one for the
// same (provider, from, to) slot never overwrites it. Protects against
// adapter retries delivering stale data. Single writer: concurrent
// callers queue here, so a read-compare-write cycle is never interleaved.
func (a *Aggregator) upsert(edges []model.RouteSegment, ttl time.Duration) int {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	stored := 0
	for _, edge := range edges {
		key := edgeKeyPrefix + edge.Key()

		if existing, ok := a.cache.Get(key); ok {
			var current model.RouteSegment
			if err := json.Unmarshal(existing, &current); err == nil &&
				!edge.ObservedAt.After(current.ObservedAt) {
				continue
			}
		}

		payload, err := json.Marshal(edge)
		if err != nil {
			continue
		}
		a.cache.Set(key, payload, ttl)
		telemetry.EdgesIngested.WithLabelValues(edge.Provider).Inc()
		stored++
	}
	return stored
}

// CurrentEdges reads the complete current edge set from the hot cache,
// once. Routing calls this at the start of a solve and never re-reads
// mid-solve.
func (a *Aggregator) CurrentEdges() []model.RouteSegment {
	keys := a.cache.Keys(edgeKeyPrefix)
	edges := make([]model.RouteSegment, 0, len(keys))
	for _, key := range keys {
		raw, ok := a.cache.Get(key)
		if !ok {
			continue
		}
		var edge model.RouteSegment
		if err := json.Unmarshal(raw, &edge); err != nil {
			continue
		}
		edges = append(edges, edge)
	}
	return edges
}

func (a *Aggregator) snapshotLoop(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Snapshot(ctx); err != nil {
				log.Error().Err(err).Msg("Snapshot append failed")
			}
		}
	}
}

// Snapshot appends the complete current edge set to the durable
// edge_snapshots stream as one immutable record.
func (a *Aggregator) Snapshot(ctx context.Context) error {
	snap := model.Snapshot{
		TickID:    atomic.AddInt64(&a.tickID, 1),
		Timestamp: a.clock.Now(),
		Edges:     a.CurrentEdges(),
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if _, err := a.store.Append(ctx, store.StreamEdgeSnapshots, payload); err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	log.Debug().Int64("tick_id", snap.TickID).Int("edges", len(snap.Edges)).Msg("Snapshot persisted")
	return nil
}

// LatestSnapshot reads back the most recent durable snapshot, used when
// the hot cache is cold after a restart.
func (a *Aggregator) LatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	records, err := a.store.Read(ctx, store.StreamEdgeSnapshots, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	var snap model.Snapshot
	if err := json.Unmarshal(records[len(records)-1].Payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &snap, nil
}

// Health exposes the adapter health snapshot for the monitor server
func (a *Aggregator) Health() []adapters.HealthState {
	return a.registry.Health()
}
