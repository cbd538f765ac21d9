package routing

import (
	"github.com/railrun/railrun/internal/model"
	"github.com/railrun/railrun/internal/regulatory"
)

// Constraint admits or rejects a single edge before it can extend a path.
// Constraints compose: every predicate must admit the edge.
type Constraint func(seg model.RouteSegment) (bool, string)

// ReasonReliabilityFloor is the rejection reason edges below the floor
// carry into a NoRouteFound result.
const ReasonReliabilityFloor = "below_reliability_floor"

// ReliabilityFloor rejects edges below the minimum per-edge reliability.
// Applied before enumeration so an unreliable edge can never appear in any
// candidate, even a winning one.
func ReliabilityFloor(floor float64) Constraint {
	return func(seg model.RouteSegment) (bool, string) {
		if seg.ReliabilityScore < floor {
			return false, ReasonReliabilityFloor
		}
		return true, ""
	}
}

// Regulatory rejects edges on prohibited corridors
func Regulatory(c *regulatory.Constraints) Constraint {
	return func(seg model.RouteSegment) (bool, string) {
		return c.Allowed(seg)
	}
}

// Enumerator finds all simple paths between two nodes subject to the hop
// limit, per-edge constraints, and per-class occurrence caps.
type Enumerator struct {
	MaxHops     int
	Constraints []Constraint
	// ClassCaps limits how many edges of a class one path may contain,
	// e.g. bridge: 1. Classes absent from the map are uncapped.
	ClassCaps map[string]int

	// rejections counts constraint hits by reason during the last
	// Enumerate call, so an empty result can name what excluded the edges
	rejections map[string]int
}

func (e *Enumerator) admit(seg model.RouteSegment) bool {
	if e.rejections == nil {
		e.rejections = make(map[string]int)
	}
	for _, c := range e.Constraints {
		if ok, reason := c(seg); !ok {
			if reason == "" {
				reason = "constraint"
			}
			e.rejections[reason]++
			return false
		}
	}
	return true
}

// RejectionReason names the constraint that excluded the most edges in the
// last enumeration, or "" when no constraint fired.
func (e *Enumerator) RejectionReason() string {
	best, n := "", 0
	for reason, count := range e.rejections {
		if count > n {
			best, n = reason, count
		}
	}
	return best
}

// Enumerate returns every simple path from source to target within the hop
// budget. Paths revisit no node, so trajectories cannot cycle through a
// cheap conversion loop. Result order is deterministic for a given edge
// snapshot: DFS in adjacency insertion order.
func (e *Enumerator) Enumerate(g *Graph, source, target model.Node) []model.Route {
	e.rejections = make(map[string]int)
	if source == target {
		return nil // identity handled by the caller, not the enumerator
	}

	// a zero hop budget admits nothing; defaults live in config, not here
	if e.MaxHops <= 0 {
		return nil
	}

	var routes []model.Route
	visited := map[model.Node]bool{source: true}
	classCount := make(map[model.SegmentClass]int)
	var path []model.RouteSegment

	var dfs func(node model.Node)
	dfs = func(node model.Node) {
		if len(path) >= e.MaxHops {
			return
		}
		for _, seg := range g.OutEdges(node) {
			next := seg.To()
			if visited[next] {
				continue
			}
			if limit, capped := e.ClassCaps[string(seg.Class)]; capped && classCount[seg.Class] >= limit {
				continue
			}
			if !e.admit(seg) {
				continue
			}

			path = append(path, seg)
			classCount[seg.Class]++

			if next == target {
				routes = append(routes, model.Route{Segments: append([]model.RouteSegment(nil), path...)})
			} else {
				visited[next] = true
				dfs(next)
				delete(visited, next)
			}

			classCount[seg.Class]--
			path = path[:len(path)-1]
		}
	}
	dfs(source)

	return routes
}
