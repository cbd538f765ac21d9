package routing

import (
	"fmt"
	"math"

	"github.com/railrun/railrun/internal/model"
)

// RouteMetrics are the three objective dimensions of one candidate route
// evaluated at a concrete notional, plus the trajectory endpoints.
type RouteMetrics struct {
	// CostPercent is total value lost to fees relative to a fee-free
	// conversion through the same rate product, in percent of source
	// notional.
	CostPercent float64 `json:"cost_percent"`
	// ETAHours is the sum of mean segment latencies
	ETAHours float64 `json:"eta_hours"`
	// Reliability is the product of per-segment reliability scores
	Reliability float64 `json:"reliability"`
	// FinalAmount is the target-asset amount after every segment
	FinalAmount float64 `json:"final_amount"`
}

// Candidate pairs a route with its evaluated metrics
type Candidate struct {
	Route   model.Route  `json:"route"`
	Metrics RouteMetrics `json:"metrics"`
}

// Evaluate runs the notional trajectory through the route and derives the
// objective metrics. Fails when any segment's fixed fee exceeds the amount
// reaching it; such a route is infeasible at this notional and must be
// discarded, not scored.
func Evaluate(route model.Route, amount float64) (RouteMetrics, error) {
	if amount <= 0 {
		return RouteMetrics{}, fmt.Errorf("amount %.6f must be positive", amount)
	}

	running := amount
	rateProduct := 1.0
	etaMinutes := 0.0
	reliability := 1.0

	for i, seg := range route.Segments {
		out, err := seg.Apply(running)
		if err != nil {
			return RouteMetrics{}, fmt.Errorf("segment %d: %w", i, err)
		}
		running = out
		rateProduct *= seg.Cost.EffectiveRate
		etaMinutes += seg.Latency.MeanMinutes()
		reliability *= seg.ReliabilityScore
	}

	// Cost compares the realized trajectory against a fee-free conversion
	// through the same rates. Zero segments means zero cost.
	costPercent := 0.0
	if len(route.Segments) > 0 {
		ideal := amount * rateProduct
		costPercent = 100 * (1 - running/ideal)
	}

	return RouteMetrics{
		CostPercent: costPercent,
		ETAHours:    etaMinutes / 60,
		Reliability: reliability,
		FinalAmount: running,
	}, nil
}

// scoreEpsilon is the window within which two scores count as tied
const scoreEpsilon = 1e-9

// better orders two candidates with equal scores: fewer segments first,
// then higher reliability, then lexicographically smaller provider
// sequence. Total and deterministic so the winner never depends on
// enumeration order.
func better(a, b Candidate) bool {
	if len(a.Route.Segments) != len(b.Route.Segments) {
		return len(a.Route.Segments) < len(b.Route.Segments)
	}
	if math.Abs(a.Metrics.Reliability-b.Metrics.Reliability) > scoreEpsilon {
		return a.Metrics.Reliability > b.Metrics.Reliability
	}
	ap, bp := a.Route.Providers(), b.Route.Providers()
	for i := range ap {
		if ap[i] != bp[i] {
			return ap[i] < bp[i]
		}
	}
	return false
}
