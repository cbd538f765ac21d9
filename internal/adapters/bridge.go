package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/railrun/railrun/internal/errs"
	"github.com/railrun/railrun/internal/model"
)

// bridgeLanes are the cross-chain corridors this adapter quotes
var bridgeLanes = []struct {
	asset   string
	fromNet string
	toNet   string
}{
	{"USDC", "ethereum", "polygon"},
	{"USDC", "polygon", "ethereum"},
	{"ETH", "ethereum", "polygon"},
}

// HopBridge ingests cross-chain transfer quotes from a Hop-style bridge
// aggregator API and emits bridge-class edges. Bridges move an asset
// between networks at 1:1 less the bridge fee; they never convert assets.
// Cancellation after submission is not supported on this rail.
type HopBridge struct {
	baseURL string
	targets map[string]bool
}

// NewHopBridge creates the bridge quote adapter over the given universe
func NewHopBridge(targets []string) *HopBridge {
	set := make(map[string]bool, len(targets))
	for _, t := range targets {
		set[CanonicalAsset(t)] = true
	}
	return &HopBridge{baseURL: "https://api.hop.exchange/v1", targets: set}
}

func (b *HopBridge) Name() string                { return "hopbridge" }
func (b *HopBridge) Cadence() model.CadenceClass { return model.CadenceFast }

type hopQuoteResponse struct {
	AmountOut    string  `json:"amountOut"`
	BonderFee    string  `json:"bonderFee"`
	FeePercent   float64 `json:"feePercent"`
	EstimatedETA int     `json:"estimatedRecieveTimeSec"`
}

// Fetch quotes every configured lane; a failed lane is skipped this tick
func (b *HopBridge) Fetch(ctx context.Context, deps Deps) TickResult {
	var result TickResult

	now := deps.Clock.Now()
	for _, lane := range bridgeLanes {
		if ctx.Err() != nil {
			return result
		}
		if !b.targets[lane.asset] {
			continue
		}

		url := fmt.Sprintf("%s/quote?amount=1000000&token=%s&fromChain=%s&toChain=%s&slippage=0.5",
			b.baseURL, lane.asset, lane.fromNet, lane.toNet)
		resp, err := deps.Transport.Do(ctx, transportGet(b.Name(), url))
		if err != nil || resp.StatusCode != http.StatusOK {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			result.Errors = append(result.Errors, callErr(b.Name(), status, err))
			continue
		}

		var body hopQuoteResponse
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			result.Errors = append(result.Errors, parseErr(b.Name(), err))
			continue
		}

		feePercent := body.FeePercent
		if feePercent < 0 || feePercent > 100 {
			result.Errors = append(result.Errors, parseErr(b.Name(), fmt.Errorf("lane %s %s->%s: fee %.3f%% out of range", lane.asset, lane.fromNet, lane.toNet, feePercent)))
			continue
		}

		etaMin := float64(body.EstimatedETA) / 60
		if etaMin <= 0 {
			etaMin = 10
		}
		result.Edges = append(result.Edges, model.RouteSegment{
			Class:       model.ClassBridge,
			FromAsset:   lane.asset,
			ToAsset:     lane.asset,
			FromNetwork: lane.fromNet,
			ToNetwork:   lane.toNet,
			Provider:    b.Name(),
			Cost:        model.Cost{FeePercent: feePercent, EffectiveRate: 1},
			Latency:     model.Latency{MinMinutes: etaMin / 2, MaxMinutes: etaMin * 1.5},
			ObservedAt:  now,
		})
	}
	return result
}

type hopTransferResponse struct {
	TransferID string `json:"transferId"`
	Status     string `json:"status"`
	AmountOut  string `json:"amountOut"`
}

// Create submits the bridge transfer
func (b *HopBridge) Create(ctx context.Context, deps Deps, req TransferRequest) (*Transfer, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"token":     req.Edge.FromAsset,
		"fromChain": req.Edge.FromNetwork,
		"toChain":   req.Edge.ToNetwork,
		"amount":    req.AmountIn,
	})
	resp, err := deps.Transport.Do(ctx, transportPost(b.Name(), b.baseURL+"/transfer", map[string]string{"Content-Type": "application/json"}, payload))
	if err != nil {
		return nil, errs.Provider(errs.KindProviderTransient, b.Name(), err, "transfer request failed")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, errs.Provider(classifyStatus(resp.StatusCode), b.Name(), nil, "status %d", resp.StatusCode)
	}

	var body hopTransferResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, errs.Provider(errs.KindParse, b.Name(), err, "transfer response")
	}
	if body.TransferID == "" {
		return nil, errs.Provider(errs.KindProviderPermanent, b.Name(), nil, "transfer returned no id")
	}
	return &Transfer{TxnID: body.TransferID, Status: TransferPending}, nil
}

// Fund is a no-op: bridge transfers fund at submission
func (b *HopBridge) Fund(ctx context.Context, deps Deps, txnID string) error { return nil }

// Status polls the transfer until the destination chain confirms
func (b *HopBridge) Status(ctx context.Context, deps Deps, txnID string) (*Transfer, error) {
	resp, err := deps.Transport.Do(ctx, transportGet(b.Name(), b.baseURL+"/transfer/"+txnID))
	if err != nil {
		return nil, errs.Provider(errs.KindProviderTransient, b.Name(), err, "status request failed")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.Provider(classifyStatus(resp.StatusCode), b.Name(), nil, "status %d", resp.StatusCode)
	}

	var body hopTransferResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, errs.Provider(errs.KindParse, b.Name(), err, "status response")
	}

	out := &Transfer{TxnID: txnID}
	switch body.Status {
	case "bonded", "settled":
		out.Status = TransferSettled
		fmt.Sscanf(body.AmountOut, "%f", &out.AmountOut)
	case "failed":
		out.Status = TransferFailed
	default:
		out.Status = TransferPending
	}
	return out, nil
}

// Cancel is not supported once a bridge transfer is submitted
func (b *HopBridge) Cancel(ctx context.Context, deps Deps, txnID string) error {
	return errs.Provider(errs.KindNotSupported, b.Name(), nil, "bridge transfers cannot be cancelled")
}
