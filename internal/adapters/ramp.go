package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/railrun/railrun/internal/errs"
	"github.com/railrun/railrun/internal/model"
)

// rampLanes are the fiat <-> stablecoin corridors this adapter quotes
var rampLanes = []struct {
	class     model.SegmentClass
	fromAsset string
	fromNet   string
	toAsset   string
	toNet     string
}{
	{model.ClassOnRamp, "USD", "", "USDC", "ethereum"},
	{model.ClassOnRamp, "EUR", "", "USDC", "ethereum"},
	{model.ClassOffRamp, "USDC", "ethereum", "USD", ""},
	{model.ClassOffRamp, "USDC", "ethereum", "EUR", ""},
	{model.ClassOffRamp, "USDC", "ethereum", "INR", ""},
}

// Ramp ingests on/off-ramp quotes from a MoonPay-style API: fiat in,
// stablecoin out, and the reverse. Ramps require an API key even for
// quotes; a missing credential disables the adapter via NotConfigured.
type Ramp struct {
	baseURL string
	targets map[string]bool
}

// NewRamp creates the on/off-ramp adapter over the given universe
func NewRamp(targets []string) *Ramp {
	set := make(map[string]bool, len(targets))
	for _, t := range targets {
		set[CanonicalAsset(t)] = true
	}
	return &Ramp{baseURL: "https://api.rampnetwork.io/v2", targets: set}
}

func (r *Ramp) Name() string                { return "rampnetwork" }
func (r *Ramp) Cadence() model.CadenceClass { return model.CadenceSlow }

type rampQuoteResponse struct {
	Rate       float64 `json:"rate"`
	FeePercent float64 `json:"feePercent"`
	FlatFee    float64 `json:"flatFee"`
	EtaMinutes int     `json:"etaMinutes"`
}

// Fetch quotes every configured lane under one credential
func (r *Ramp) Fetch(ctx context.Context, deps Deps) TickResult {
	var result TickResult

	cred, ok := deps.Credentials.Get(r.Name())
	if !ok || cred.APIKey == "" {
		result.Errors = append(result.Errors, CallError{
			Provider: r.Name(), Kind: errs.KindNotConfigured,
			Message: "missing API key",
		})
		return result
	}

	now := deps.Clock.Now()
	for _, lane := range rampLanes {
		if ctx.Err() != nil {
			return result
		}
		if !r.targets[lane.fromAsset] || !r.targets[lane.toAsset] {
			continue
		}

		url := fmt.Sprintf("%s/quote?from=%s&to=%s&network=%s", r.baseURL, lane.fromAsset, lane.toAsset, lane.toNet)
		req := transportGet(r.Name(), url)
		req.Headers = map[string]string{"Authorization": "Bearer " + cred.APIKey}
		resp, err := deps.Transport.Do(ctx, req)
		if err != nil || resp.StatusCode != http.StatusOK {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			result.Errors = append(result.Errors, callErr(r.Name(), status, err))
			continue
		}

		var body rampQuoteResponse
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			result.Errors = append(result.Errors, parseErr(r.Name(), err))
			continue
		}
		if body.Rate <= 0 {
			result.Errors = append(result.Errors, parseErr(r.Name(), fmt.Errorf("lane %s->%s: bad rate %.6f", lane.fromAsset, lane.toAsset, body.Rate)))
			continue
		}

		eta := float64(body.EtaMinutes)
		if eta <= 0 {
			eta = 30
		}
		result.Edges = append(result.Edges, model.RouteSegment{
			Class:       lane.class,
			FromAsset:   lane.fromAsset,
			ToAsset:     lane.toAsset,
			FromNetwork: lane.fromNet,
			ToNetwork:   lane.toNet,
			Provider:    r.Name(),
			Cost:        model.Cost{FeePercent: body.FeePercent, FixedFee: body.FlatFee, EffectiveRate: body.Rate},
			Latency:     model.Latency{MinMinutes: eta / 2, MaxMinutes: eta * 2},
			ObservedAt:  now,
		})
	}
	return result
}

type rampOrderResponse struct {
	OrderID   string  `json:"orderId"`
	Status    string  `json:"status"`
	AmountOut float64 `json:"amountOut"`
	FeesPaid  float64 `json:"feesPaid"`
}

// Create opens a ramp order for the edge's conversion
func (r *Ramp) Create(ctx context.Context, deps Deps, req TransferRequest) (*Transfer, error) {
	cred, ok := deps.Credentials.Get(r.Name())
	if !ok || cred.APIKey == "" {
		return nil, errs.Provider(errs.KindNotConfigured, r.Name(), nil, "missing API key")
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"from":    req.Edge.FromAsset,
		"to":      req.Edge.ToAsset,
		"network": req.Edge.ToNetwork,
		"amount":  req.AmountIn,
	})
	httpReq := transportPost(r.Name(), r.baseURL+"/orders", map[string]string{
		"Authorization": "Bearer " + cred.APIKey,
		"Content-Type":  "application/json",
	}, payload)

	resp, err := deps.Transport.Do(ctx, httpReq)
	if err != nil {
		return nil, errs.Provider(errs.KindProviderTransient, r.Name(), err, "order request failed")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, errs.Provider(classifyStatus(resp.StatusCode), r.Name(), nil, "status %d", resp.StatusCode)
	}

	var body rampOrderResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, errs.Provider(errs.KindParse, r.Name(), err, "order response")
	}
	if body.OrderID == "" {
		return nil, errs.Provider(errs.KindProviderPermanent, r.Name(), nil, "order returned no id")
	}
	return &Transfer{TxnID: body.OrderID, Status: TransferPending}, nil
}

// Fund is a no-op: ramp orders collect payment at creation
func (r *Ramp) Fund(ctx context.Context, deps Deps, txnID string) error { return nil }

// Status polls the ramp order to terminal state
func (r *Ramp) Status(ctx context.Context, deps Deps, txnID string) (*Transfer, error) {
	cred, ok := deps.Credentials.Get(r.Name())
	if !ok || cred.APIKey == "" {
		return nil, errs.Provider(errs.KindNotConfigured, r.Name(), nil, "missing API key")
	}

	req := transportGet(r.Name(), r.baseURL+"/orders/"+txnID)
	req.Headers = map[string]string{"Authorization": "Bearer " + cred.APIKey}
	resp, err := deps.Transport.Do(ctx, req)
	if err != nil {
		return nil, errs.Provider(errs.KindProviderTransient, r.Name(), err, "status request failed")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.Provider(classifyStatus(resp.StatusCode), r.Name(), nil, "status %d", resp.StatusCode)
	}

	var body rampOrderResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, errs.Provider(errs.KindParse, r.Name(), err, "status response")
	}

	out := &Transfer{TxnID: txnID, AmountOut: body.AmountOut, FeesPaid: body.FeesPaid}
	switch body.Status {
	case "released", "completed":
		out.Status = TransferSettled
	case "failed", "expired":
		out.Status = TransferFailed
	case "cancelled":
		out.Status = TransferCancelled
	default:
		out.Status = TransferPending
	}
	return out, nil
}

// Cancel is not supported after a ramp order enters processing
func (r *Ramp) Cancel(ctx context.Context, deps Deps, txnID string) error {
	return errs.Provider(errs.KindNotSupported, r.Name(), nil, "ramp orders cannot be cancelled")
}
