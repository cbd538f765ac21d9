package engine

import (
	"context"
	"strings"

	"github.com/railrun/railrun/internal/adapters"
	"github.com/railrun/railrun/internal/aggregator"
	"github.com/railrun/railrun/internal/config"
	"github.com/railrun/railrun/internal/errs"
	"github.com/railrun/railrun/internal/execution"
	"github.com/railrun/railrun/internal/model"
	"github.com/railrun/railrun/internal/regulatory"
	"github.com/railrun/railrun/internal/routing"
)

// EdgeFilter narrows a GetEdges read. Zero fields match everything.
type EdgeFilter struct {
	FromAsset string             `json:"from_asset,omitempty"`
	ToAsset   string             `json:"to_asset,omitempty"`
	Provider  string             `json:"provider,omitempty"`
	Class     model.SegmentClass `json:"segment_class,omitempty"`
}

func (f EdgeFilter) matches(seg model.RouteSegment) bool {
	if f.FromAsset != "" && !strings.EqualFold(f.FromAsset, seg.FromAsset) {
		return false
	}
	if f.ToAsset != "" && !strings.EqualFold(f.ToAsset, seg.ToAsset) {
		return false
	}
	if f.Provider != "" && f.Provider != seg.Provider {
		return false
	}
	if f.Class != "" && f.Class != seg.Class {
		return false
	}
	return true
}

// OptimizeRequest parameterizes one solve. K, Weights, and MaxHops
// override the configured defaults when set.
type OptimizeRequest struct {
	FromAsset   string          `json:"from_asset"`
	ToAsset     string          `json:"to_asset"`
	FromNetwork string          `json:"from_network,omitempty"`
	ToNetwork   string          `json:"to_network,omitempty"`
	Amount      float64         `json:"amount"`
	K           int             `json:"k,omitempty"`
	Weights     *config.Weights `json:"weights,omitempty"`
	MaxHops     *int            `json:"max_hops,omitempty"`
}

// ExecuteRequest starts an execution over a previously optimized route
type ExecuteRequest struct {
	Route  model.Route `json:"route"`
	Amount float64     `json:"amount"`
}

// Engine is the facade over the three subsystems. All collaborators are
// injected at construction; the engine holds no state of its own beyond
// what they hold.
type Engine struct {
	cfg        config.Config
	aggregator *aggregator.Aggregator
	orch       *execution.Orchestrator
	regulatory *regulatory.Constraints
}

// New wires the facade
func New(cfg config.Config, agg *aggregator.Aggregator, orch *execution.Orchestrator, reg *regulatory.Constraints) *Engine {
	return &Engine{cfg: cfg, aggregator: agg, orch: orch, regulatory: reg}
}

// GetEdges returns the current edges matching the filter. A cold cache
// falls back to the latest durable snapshot so reads survive a restart.
func (e *Engine) GetEdges(ctx context.Context, filter EdgeFilter) ([]model.RouteSegment, error) {
	edges := e.aggregator.CurrentEdges()
	if len(edges) == 0 {
		snap, err := e.aggregator.LatestSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			edges = snap.Edges
		}
	}

	out := make([]model.RouteSegment, 0, len(edges))
	for _, seg := range edges {
		if filter.matches(seg) {
			out = append(out, seg)
		}
	}
	return out, nil
}

// OptimizeRoute solves for the best conversion paths over one consistent
// edge snapshot, read once at the start of the solve.
func (e *Engine) OptimizeRoute(ctx context.Context, req OptimizeRequest) (*routing.Result, error) {
	if req.FromAsset == "" || req.ToAsset == "" {
		return nil, errs.New(errs.KindValidation, "from_asset and to_asset are required")
	}
	if req.Amount <= 0 {
		return nil, errs.New(errs.KindValidation, "amount %.6f must be positive", req.Amount)
	}

	edges, err := e.GetEdges(ctx, EdgeFilter{})
	if err != nil {
		return nil, err
	}

	return e.solver(req).Solve(routing.Request{
		Source: model.Node{Asset: strings.ToUpper(req.FromAsset), Network: req.FromNetwork},
		Target: model.Node{Asset: strings.ToUpper(req.ToAsset), Network: req.ToNetwork},
		Amount: req.Amount,
	}, edges)
}

// solver builds the per-request solver with any overrides applied
func (e *Engine) solver(req OptimizeRequest) routing.Solver {
	routingCfg := e.cfg.Routing
	if req.K > 0 {
		routingCfg.TopK = req.K
	}
	if req.Weights != nil {
		routingCfg.Weights = *req.Weights
	}
	if req.MaxHops != nil {
		routingCfg.MaxHops = *req.MaxHops
	}
	return routing.NewBeamSolver(routingCfg,
		routing.ReliabilityFloor(routingCfg.ReliabilityFloor),
		routing.Regulatory(e.regulatory),
	)
}

// ExecuteRoute starts executing a route and returns the initial record
func (e *Engine) ExecuteRoute(ctx context.Context, req ExecuteRequest) (model.ExecutionRecord, error) {
	return e.orch.Start(ctx, req.Route, req.Amount)
}

// GetExecutionStatus returns the latest snapshot of an execution
func (e *Engine) GetExecutionStatus(id string) (model.ExecutionRecord, error) {
	return e.orch.Get(id)
}

// PauseExecution pauses at the next segment boundary
func (e *Engine) PauseExecution(id string) (model.ExecutionRecord, error) {
	return e.orch.Pause(id)
}

// ResumeExecution continues a paused execution
func (e *Engine) ResumeExecution(id string) (model.ExecutionRecord, error) {
	return e.orch.Resume(id)
}

// CancelExecution halts further segments
func (e *Engine) CancelExecution(ctx context.Context, id string, opts execution.CancelOptions) (model.ExecutionRecord, error) {
	return e.orch.Cancel(ctx, id, opts)
}

// RerouteExecution installs a new remaining route
func (e *Engine) RerouteExecution(id string, opts execution.RerouteOptions) (model.ExecutionRecord, error) {
	return e.orch.Reroute(id, opts)
}

// ModifyTransaction overrides the amount of a not-yet-started segment
func (e *Engine) ModifyTransaction(id string, segmentIndex int, newAmount float64) (model.ExecutionRecord, error) {
	return e.orch.Modify(id, segmentIndex, newAmount)
}

// ListExecutions returns every retained execution snapshot
func (e *Engine) ListExecutions() []model.ExecutionRecord {
	return e.orch.List()
}

// ProviderHealth reports the health state of every adapter
func (e *Engine) ProviderHealth() []adapters.HealthState {
	return e.aggregator.Health()
}
