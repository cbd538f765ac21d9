package routing

import (
	"container/heap"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/railrun/railrun/internal/config"
	"github.com/railrun/railrun/internal/errs"
	"github.com/railrun/railrun/internal/model"
	"github.com/railrun/railrun/internal/telemetry"
)

// Request asks for the best conversion from source to target at a concrete
// notional amount.
type Request struct {
	Source model.Node `json:"source"`
	Target model.Node `json:"target"`
	Amount float64    `json:"amount"`
}

// Result is the ranked outcome of one solve. Best is always Ranked[0].
type Result struct {
	Best   Candidate   `json:"best"`
	Ranked []Candidate `json:"ranked"`
}

// Solver finds and ranks conversion routes over a fixed edge snapshot.
// Implementations must be deterministic: the same snapshot and request
// always produce the same ranking.
type Solver interface {
	Solve(req Request, edges []model.RouteSegment) (*Result, error)
}

// ExhaustiveSolver enumerates every admissible simple path and ranks the
// feasible ones. Exact within the hop limit; the reference implementation
// other solvers must agree with.
type ExhaustiveSolver struct {
	Routing     config.RoutingConfig
	Constraints []Constraint
}

// NewExhaustiveSolver creates the exact solver
func NewExhaustiveSolver(routing config.RoutingConfig, constraints ...Constraint) *ExhaustiveSolver {
	return &ExhaustiveSolver{Routing: routing, Constraints: constraints}
}

func (s *ExhaustiveSolver) Solve(req Request, edges []model.RouteSegment) (*Result, error) {
	started := time.Now()
	defer func() { telemetry.SolveDuration.Observe(time.Since(started).Seconds()) }()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if identity, done := identityResult(req, s.Routing); done {
		return identity, nil
	}
	if len(edges) == 0 {
		return nil, errs.New(errs.KindNoRouteFound, "no edges available")
	}

	g := NewGraph(edges)
	if !g.HasNode(req.Source) {
		return nil, errs.New(errs.KindNoRouteFound, "source %s not present in any current edge", req.Source)
	}

	enum := &Enumerator{
		MaxHops:     s.Routing.MaxHops,
		Constraints: s.Constraints,
		ClassCaps:   s.Routing.ClassCaps,
	}
	routes := enum.Enumerate(g, req.Source, req.Target)
	if len(routes) == 0 {
		if reason := enum.RejectionReason(); reason != "" {
			return nil, errs.New(errs.KindNoRouteFound, "%s -> %s: %s", req.Source, req.Target, reason)
		}
		return nil, errs.New(errs.KindNoRouteFound, "no admissible path %s -> %s within %d hops", req.Source, req.Target, s.Routing.MaxHops)
	}

	return rank(routes, req, s.Routing)
}

// BeamSolver is the optimized solver: best-first search expanding partial
// paths by running output amount, bounded by a beam width per node. It can
// miss paths the exhaustive solver finds, so an empty outcome falls back
// to the exhaustive solver rather than reporting NoRouteFound on its own.
type BeamSolver struct {
	Routing     config.RoutingConfig
	Constraints []Constraint
	// BeamWidth bounds how many partial paths survive per node visit
	BeamWidth int

	fallback *ExhaustiveSolver
}

// NewBeamSolver creates the optimized solver with its exhaustive fallback
func NewBeamSolver(routing config.RoutingConfig, constraints ...Constraint) *BeamSolver {
	return &BeamSolver{
		Routing:     routing,
		Constraints: constraints,
		BeamWidth:   3,
		fallback:    NewExhaustiveSolver(routing, constraints...),
	}
}

type partial struct {
	node   model.Node
	amount float64
	path   []model.RouteSegment
	index  int
}

type partialQueue []*partial

func (q partialQueue) Len() int            { return len(q) }
func (q partialQueue) Less(i, j int) bool  { return q[i].amount > q[j].amount }
func (q partialQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *partialQueue) Push(x interface{}) { *q = append(*q, x.(*partial)) }
func (q *partialQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

func (s *BeamSolver) Solve(req Request, edges []model.RouteSegment) (*Result, error) {
	started := time.Now()
	defer func() { telemetry.SolveDuration.Observe(time.Since(started).Seconds()) }()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if identity, done := identityResult(req, s.Routing); done {
		return identity, nil
	}
	if len(edges) == 0 {
		return nil, errs.New(errs.KindNoRouteFound, "no edges available")
	}

	routes := s.search(NewGraph(edges), req)
	if len(routes) == 0 {
		log.Debug().Str("source", req.Source.String()).Str("target", req.Target.String()).
			Msg("Beam search found nothing, falling back to exhaustive solve")
		return s.fallback.Solve(req, edges)
	}

	result, err := rank(routes, req, s.Routing)
	if err != nil {
		// every beam path infeasible at this amount; the exhaustive space
		// may still hold a feasible one
		return s.fallback.Solve(req, edges)
	}
	return result, nil
}

func (s *BeamSolver) search(g *Graph, req Request) []model.Route {
	maxHops := s.Routing.MaxHops
	if maxHops <= 0 {
		return nil
	}
	width := s.BeamWidth
	if width <= 0 {
		width = 3
	}
	topK := s.Routing.TopK
	if topK <= 0 {
		topK = 5
	}
	enum := &Enumerator{Constraints: s.Constraints, ClassCaps: s.Routing.ClassCaps}

	q := &partialQueue{}
	heap.Init(q)
	heap.Push(q, &partial{node: req.Source, amount: req.Amount})

	expansions := make(map[model.Node]int)
	var complete []model.Route

	for q.Len() > 0 && len(complete) < topK {
		p := heap.Pop(q).(*partial)
		if expansions[p.node] >= width {
			continue
		}
		expansions[p.node]++

		if len(p.path) >= maxHops {
			continue
		}

		classCount := make(map[model.SegmentClass]int)
		onPath := map[model.Node]bool{req.Source: true}
		for _, seg := range p.path {
			classCount[seg.Class]++
			onPath[seg.To()] = true
		}

		for _, seg := range g.OutEdges(p.node) {
			next := seg.To()
			if onPath[next] {
				continue
			}
			if limit, capped := enum.ClassCaps[string(seg.Class)]; capped && classCount[seg.Class] >= limit {
				continue
			}
			if !enum.admit(seg) {
				continue
			}
			out, err := seg.Apply(p.amount)
			if err != nil {
				continue
			}

			path := append(append([]model.RouteSegment(nil), p.path...), seg)
			if next == req.Target {
				complete = append(complete, model.Route{Segments: path})
				continue
			}
			heap.Push(q, &partial{node: next, amount: out, path: path})
		}
	}
	return complete
}

func validateRequest(req Request) error {
	if req.Amount <= 0 {
		return errs.New(errs.KindValidation, "amount %.6f must be positive", req.Amount)
	}
	if req.Source.Asset == "" || req.Target.Asset == "" {
		return errs.New(errs.KindValidation, "source and target assets are required")
	}
	return nil
}

// identityResult handles source == target: an empty route when identity
// routes are enabled, NoRouteFound otherwise.
func identityResult(req Request, cfg config.RoutingConfig) (*Result, bool) {
	if req.Source != req.Target {
		return nil, false
	}
	if !cfg.AllowIdentityRoute {
		return nil, false
	}
	c := Candidate{
		Route:   model.Route{},
		Metrics: RouteMetrics{Reliability: 1.0, FinalAmount: req.Amount},
	}
	return &Result{Best: c, Ranked: []Candidate{c}}, true
}

// rank evaluates the enumerated routes at the request amount, drops
// infeasible ones, scores the rest and truncates to top-k.
func rank(routes []model.Route, req Request, cfg config.RoutingConfig) (*Result, error) {
	candidates := make([]Candidate, 0, len(routes))
	for _, route := range routes {
		metrics, err := Evaluate(route, req.Amount)
		if err != nil {
			continue // infeasible at this notional
		}
		candidates = append(candidates, Candidate{Route: route, Metrics: metrics})
	}
	if len(candidates) == 0 {
		return nil, errs.New(errs.KindNoRouteFound, "all %d candidate paths infeasible at amount %.2f", len(routes), req.Amount)
	}

	sel := &Selector{Weights: cfg.Weights}
	ranked := sel.Rank(candidates)

	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return &Result{Best: ranked[0], Ranked: ranked}, nil
}
