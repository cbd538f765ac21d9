package adapters

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/railrun/railrun/internal/clock"
	"github.com/railrun/railrun/internal/model"
)

// EdgeSink receives push-fed edges between scheduled ticks
type EdgeSink interface {
	Ingest(edges []model.RouteSegment)
}

// KrakenStream subscribes to Kraken's public websocket ticker feed and
// pushes crypto edges into the sink as trades print, keeping fast-class
// pricing fresher than the tick cadence alone allows. The stream is an
// optimization: the REST adapter remains the source of record and the
// scheduler works unchanged without the stream running.
type KrakenStream struct {
	url     string
	pairs   []string
	sink    EdgeSink
	clock   clock.Clock
	dialer  *websocket.Dialer
	backoff time.Duration
}

// NewKrakenStream creates the websocket streamer for the given WS pairs
// (Kraken WS naming, e.g. "XBT/USD").
func NewKrakenStream(pairs []string, sink EdgeSink, clk clock.Clock) *KrakenStream {
	return &KrakenStream{
		url:     "wss://ws.kraken.com",
		pairs:   pairs,
		sink:    sink,
		clock:   clk,
		dialer:  websocket.DefaultDialer,
		backoff: 5 * time.Second,
	}
}

// Run connects, subscribes, and pumps ticker messages until ctx ends.
// Connection loss reconnects after a fixed backoff; the stream never
// propagates errors to its caller.
func (ks *KrakenStream) Run(ctx context.Context) {
	for {
		if err := ks.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("Kraken stream disconnected, reconnecting")
		}
		if err := ks.clock.Sleep(ctx, ks.backoff); err != nil {
			return
		}
	}
}

func (ks *KrakenStream) runOnce(ctx context.Context) error {
	conn, _, err := ks.dialer.DialContext(ctx, ks.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"event":        "subscribe",
		"pair":         ks.pairs,
		"subscription": map[string]string{"name": "ticker"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	log.Info().Strs("pairs", ks.pairs).Msg("Kraken stream subscribed")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if edges := ks.parseTicker(raw); len(edges) > 0 {
			ks.sink.Ingest(edges)
		}
	}
}

// parseTicker handles Kraken's array-framed channel messages:
// [channelID, {"c": ["price", "lot"]}, "ticker", "XBT/USD"]
func (ks *KrakenStream) parseTicker(raw []byte) []model.RouteSegment {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil || len(frame) < 4 {
		return nil // event messages ({"event": ...}) land here
	}

	var payload struct {
		C []string `json:"c"`
	}
	if err := json.Unmarshal(frame[1], &payload); err != nil || len(payload.C) == 0 {
		return nil
	}
	var pair string
	if err := json.Unmarshal(frame[len(frame)-1], &pair); err != nil {
		return nil
	}
	price, err := strconv.ParseFloat(payload.C[0], 64)
	if err != nil || price <= 0 {
		return nil
	}

	assets := strings.SplitN(pair, "/", 2)
	if len(assets) != 2 {
		return nil
	}
	base, quote := CanonicalAsset(assets[0]), CanonicalAsset(assets[1])

	now := ks.clock.Now()
	edges := make([]model.RouteSegment, 0, 2)
	for _, dir := range []struct {
		from, to string
		rate     float64
	}{
		{base, quote, price},
		{quote, base, 1 / price},
	} {
		edges = append(edges, model.RouteSegment{
			Class:       model.ClassCrypto,
			FromAsset:   dir.from,
			ToAsset:     dir.to,
			FromNetwork: "kraken",
			ToNetwork:   "kraken",
			Provider:    "kraken",
			Cost:        model.Cost{FeePercent: krakenTakerFeePercent, EffectiveRate: dir.rate},
			Latency:     model.Latency{MinMinutes: 0, MaxMinutes: 1},
			ObservedAt:  now,
		})
	}
	return NormalizeAll(edges)
}
