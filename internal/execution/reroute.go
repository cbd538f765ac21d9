package execution

import (
	"github.com/rs/zerolog/log"

	"github.com/railrun/railrun/internal/config"
	"github.com/railrun/railrun/internal/model"
	"github.com/railrun/railrun/internal/routing"
)

// EdgeSource supplies the current edge snapshot for a re-solve
type EdgeSource interface {
	CurrentEdges() []model.RouteSegment
}

// Rerouter runs the between-segment reroute check: re-solve from the
// current node to the original target at the running notional, and compare
// against what remains of the installed route.
type Rerouter struct {
	Solver     routing.Solver
	Edges      EdgeSource
	Thresholds config.RerouteThresholds
}

// Consider returns the replacement suffix when a strictly better path
// exists under any threshold, or nil when the installed route stands.
// Never returns an error: a failed re-solve just means no reroute.
func (r *Rerouter) Consider(current, target model.Node, amount float64, remaining model.Route) *model.Route {
	if len(remaining.Segments) == 0 {
		return nil
	}

	installed, err := routing.Evaluate(remaining, amount)
	if err != nil {
		return nil
	}

	result, err := r.Solver.Solve(routing.Request{
		Source: current,
		Target: target,
		Amount: amount,
	}, r.Edges.CurrentEdges())
	if err != nil || len(result.Best.Route.Segments) == 0 {
		return nil
	}
	fresh := result.Best.Metrics

	if !r.betterUnderThresholds(installed, fresh) {
		return nil
	}

	log.Info().Str("current", current.String()).Str("target", target.String()).
		Float64("installed_cost", installed.CostPercent).Float64("fresh_cost", fresh.CostPercent).
		Msg("Reroute check fired")
	route := result.Best.Route
	return &route
}

// betterUnderThresholds fires on any one criterion: cost drop, ETA drop,
// or reliability rise past its threshold.
func (r *Rerouter) betterUnderThresholds(installed, fresh routing.RouteMetrics) bool {
	if installed.CostPercent > 0 {
		drop := (installed.CostPercent - fresh.CostPercent) / installed.CostPercent * 100
		if drop > r.Thresholds.CostPercentDrop {
			return true
		}
	}
	if installed.ETAHours > 0 {
		drop := (installed.ETAHours - fresh.ETAHours) / installed.ETAHours * 100
		if drop > r.Thresholds.ETAPercentDrop {
			return true
		}
	}
	if fresh.Reliability-installed.Reliability >= r.Thresholds.ReliabilityRise {
		return true
	}
	return false
}
