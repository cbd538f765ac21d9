package model

import (
	"fmt"
	"strings"
	"time"
)

// SegmentClass identifies the rail family an edge settles over
type SegmentClass string

const (
	ClassFX       SegmentClass = "fx"
	ClassCrypto   SegmentClass = "crypto"
	ClassBridge   SegmentClass = "bridge"
	ClassOnRamp   SegmentClass = "on_ramp"
	ClassOffRamp  SegmentClass = "off_ramp"
	ClassBankRail SegmentClass = "bank_rail"
)

// Valid reports whether sc is one of the known segment classes
func (sc SegmentClass) Valid() bool {
	switch sc {
	case ClassFX, ClassCrypto, ClassBridge, ClassOnRamp, ClassOffRamp, ClassBankRail:
		return true
	}
	return false
}

// CadenceClass groups segment classes by refresh cadence
type CadenceClass string

const (
	CadenceFast CadenceClass = "fast" // crypto, gas, bridge
	CadenceSlow CadenceClass = "slow" // fx, bank_rail, liquidity
)

// Cadence returns the refresh cadence class for this segment class
func (sc SegmentClass) Cadence() CadenceClass {
	switch sc {
	case ClassCrypto, ClassBridge:
		return CadenceFast
	default:
		return CadenceSlow
	}
}

// Node is a routing graph vertex: an asset on a particular settlement
// medium. An empty Network is legal (fiat bank-side balances).
type Node struct {
	Asset   string `json:"asset"`
	Network string `json:"network,omitempty"`
}

func (n Node) String() string {
	if n.Network == "" {
		return n.Asset
	}
	return n.Asset + "@" + n.Network
}

// Cost describes the fee structure of a single edge. FeePercent is always
// percent of source notional, never basis points or a fraction.
type Cost struct {
	FeePercent    float64 `json:"fee_percent"`
	FixedFee      float64 `json:"fixed_fee"`
	EffectiveRate float64 `json:"effective_rate"`
}

// Latency bounds the settlement time of an edge, inclusive, in minutes
type Latency struct {
	MinMinutes float64 `json:"min_minutes"`
	MaxMinutes float64 `json:"max_minutes"`
}

// MeanMinutes returns the midpoint of the latency window
func (l Latency) MeanMinutes() float64 {
	return (l.MinMinutes + l.MaxMinutes) / 2
}

// RouteSegment is the atomic unit of routing: one conversion on one rail
// quoted by one provider. Segments are immutable once observed; a fresher
// observation is a new segment superseding the old one.
type RouteSegment struct {
	Class            SegmentClass           `json:"segment_class"`
	FromAsset        string                 `json:"from_asset"`
	ToAsset          string                 `json:"to_asset"`
	FromNetwork      string                 `json:"from_network,omitempty"`
	ToNetwork        string                 `json:"to_network,omitempty"`
	Provider         string                 `json:"provider"`
	Cost             Cost                   `json:"cost"`
	Latency          Latency                `json:"latency"`
	ReliabilityScore float64                `json:"reliability_score"`
	Constraints      map[string]interface{} `json:"constraints,omitempty"`
	ObservedAt       time.Time              `json:"observed_at"`
}

// From returns the source node of the segment
func (s RouteSegment) From() Node {
	return Node{Asset: s.FromAsset, Network: s.FromNetwork}
}

// To returns the target node of the segment
func (s RouteSegment) To() Node {
	return Node{Asset: s.ToAsset, Network: s.ToNetwork}
}

// Key identifies the current-edge slot this segment occupies. The store
// holds at most one current edge per key; newer observations win.
func (s RouteSegment) Key() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", s.Provider, s.FromAsset, s.FromNetwork, s.ToAsset, s.ToNetwork)
}

// Validate enforces the edge invariants. Edges failing validation never
// enter the graph.
func (s RouteSegment) Validate() error {
	if !s.Class.Valid() {
		return fmt.Errorf("segment class %q unknown", s.Class)
	}
	if s.FromAsset == "" || s.ToAsset == "" {
		return fmt.Errorf("segment %s: from/to assets required", s.Provider)
	}
	if s.FromAsset != strings.ToUpper(s.FromAsset) || s.ToAsset != strings.ToUpper(s.ToAsset) {
		return fmt.Errorf("segment %s: assets must be uppercase", s.Provider)
	}
	if s.Provider == "" {
		return fmt.Errorf("segment %s->%s: provider required", s.FromAsset, s.ToAsset)
	}
	if s.Cost.FeePercent < 0 || s.Cost.FeePercent > 100 {
		return fmt.Errorf("segment %s: fee_percent %.4f out of [0,100]", s.Provider, s.Cost.FeePercent)
	}
	if s.Cost.FixedFee < 0 {
		return fmt.Errorf("segment %s: fixed_fee %.4f negative", s.Provider, s.Cost.FixedFee)
	}
	if s.Cost.EffectiveRate <= 0 {
		return fmt.Errorf("segment %s: effective_rate %.6f must be positive", s.Provider, s.Cost.EffectiveRate)
	}
	if s.Latency.MinMinutes < 0 || s.Latency.MinMinutes > s.Latency.MaxMinutes {
		return fmt.Errorf("segment %s: latency bounds (%.1f, %.1f) invalid", s.Provider, s.Latency.MinMinutes, s.Latency.MaxMinutes)
	}
	if s.ReliabilityScore < 0 || s.ReliabilityScore > 1 {
		return fmt.Errorf("segment %s: reliability %.3f out of [0,1]", s.Provider, s.ReliabilityScore)
	}
	return nil
}

// Apply runs one step of the notional trajectory: the amount that comes out
// of this segment when amountIn enters it. Returns an error when amountIn
// cannot cover the fixed fee (the segment is infeasible at that notional).
func (s RouteSegment) Apply(amountIn float64) (float64, error) {
	if amountIn <= s.Cost.FixedFee {
		return 0, fmt.Errorf("amount %.6f cannot cover fixed fee %.6f on %s", amountIn, s.Cost.FixedFee, s.Provider)
	}
	out := (amountIn - s.Cost.FixedFee) * (1 - s.Cost.FeePercent/100) * s.Cost.EffectiveRate
	return out, nil
}

// Route is a validated ordered sequence of segments forming a source to
// target path. Adjacent segments must agree on both asset and network.
type Route struct {
	Segments []RouteSegment `json:"segments"`
}

// Source returns the first node of the route, or the zero Node for an
// empty (identity) route.
func (r Route) Source() Node {
	if len(r.Segments) == 0 {
		return Node{}
	}
	return r.Segments[0].From()
}

// Target returns the last node of the route
func (r Route) Target() Node {
	if len(r.Segments) == 0 {
		return Node{}
	}
	return r.Segments[len(r.Segments)-1].To()
}

// Validate checks asset/network continuity across the route
func (r Route) Validate() error {
	for i, seg := range r.Segments {
		if err := seg.Validate(); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		if i > 0 && r.Segments[i-1].To() != seg.From() {
			return fmt.Errorf("segment %d: discontinuity %s -> %s", i, r.Segments[i-1].To(), seg.From())
		}
	}
	return nil
}

// Providers returns the ordered provider sequence, used for tie-breaking
func (r Route) Providers() []string {
	out := make([]string, len(r.Segments))
	for i, seg := range r.Segments {
		out[i] = seg.Provider
	}
	return out
}
