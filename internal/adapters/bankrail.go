package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/railrun/railrun/internal/errs"
	"github.com/railrun/railrun/internal/model"
)

// bankCorridors are the fiat corridors this adapter quotes, bank-side to
// bank-side.
var bankCorridors = [][2]string{
	{"USD", "EUR"},
	{"USD", "GBP"},
	{"USD", "INR"},
	{"EUR", "GBP"},
	{"EUR", "INR"},
	{"GBP", "INR"},
}

// Swiftline ingests cross-border bank transfer quotes from a Wise-style
// API and emits bank_rail edges on the "bank" network. The execution side
// is the two-step create-then-fund model: a transfer exists after create
// but moves nothing until funded.
type Swiftline struct {
	baseURL string
	targets map[string]bool
}

// NewSwiftline creates the bank rail adapter over the given universe
func NewSwiftline(targets []string) *Swiftline {
	set := make(map[string]bool, len(targets))
	for _, t := range targets {
		set[CanonicalAsset(t)] = true
	}
	return &Swiftline{baseURL: "https://api.swiftline.io/v1", targets: set}
}

func (s *Swiftline) Name() string                { return "swiftline" }
func (s *Swiftline) Cadence() model.CadenceClass { return model.CadenceSlow }

type swiftlineQuoteResponse struct {
	Rate        float64 `json:"rate"`
	FeePercent  float64 `json:"feePercent"`
	FixedFee    float64 `json:"fixedFee"`
	EtaHoursMin float64 `json:"etaHoursMin"`
	EtaHoursMax float64 `json:"etaHoursMax"`
	Reliability float64 `json:"deliveryRate,omitempty"`
}

// Fetch quotes each corridor in both directions
func (s *Swiftline) Fetch(ctx context.Context, deps Deps) TickResult {
	var result TickResult

	cred, ok := deps.Credentials.Get(s.Name())
	if !ok || cred.APIKey == "" {
		result.Errors = append(result.Errors, CallError{
			Provider: s.Name(), Kind: errs.KindNotConfigured,
			Message: "missing API key",
		})
		return result
	}

	now := deps.Clock.Now()
	for _, corridor := range bankCorridors {
		for _, dir := range [][2]string{corridor, {corridor[1], corridor[0]}} {
			if ctx.Err() != nil {
				return result
			}
			from, to := dir[0], dir[1]
			if !s.targets[from] || !s.targets[to] {
				continue
			}

			req := transportGet(s.Name(), fmt.Sprintf("%s/quotes?source=%s&target=%s", s.baseURL, from, to))
			req.Headers = map[string]string{"Authorization": "Bearer " + cred.APIKey}
			resp, err := deps.Transport.Do(ctx, req)
			if err != nil || resp.StatusCode != http.StatusOK {
				status := 0
				if resp != nil {
					status = resp.StatusCode
				}
				result.Errors = append(result.Errors, callErr(s.Name(), status, err))
				continue
			}

			var body swiftlineQuoteResponse
			if err := json.Unmarshal(resp.Body, &body); err != nil {
				result.Errors = append(result.Errors, parseErr(s.Name(), err))
				continue
			}
			if body.Rate <= 0 {
				result.Errors = append(result.Errors, parseErr(s.Name(), fmt.Errorf("corridor %s->%s: bad rate %.6f", from, to, body.Rate)))
				continue
			}

			result.Edges = append(result.Edges, model.RouteSegment{
				Class:       model.ClassBankRail,
				FromAsset:   from,
				ToAsset:     to,
				FromNetwork: "bank",
				ToNetwork:   "bank",
				Provider:    s.Name(),
				Cost: model.Cost{
					FeePercent:    body.FeePercent,
					FixedFee:      body.FixedFee,
					EffectiveRate: body.Rate,
				},
				Latency: model.Latency{
					MinMinutes: body.EtaHoursMin * 60,
					MaxMinutes: body.EtaHoursMax * 60,
				},
				ReliabilityScore: body.Reliability,
				ObservedAt:       now,
			})
		}
	}
	return result
}

type swiftlineTransferResponse struct {
	TransferID string  `json:"transferId"`
	Status     string  `json:"status"` // created, funded, processing, settled, failed, cancelled
	AmountOut  float64 `json:"targetAmount"`
	FeesPaid   float64 `json:"totalFees"`
}

// Create registers the transfer. The transfer does not move money until
// Fund succeeds; the executor is responsible for calling both.
func (s *Swiftline) Create(ctx context.Context, deps Deps, req TransferRequest) (*Transfer, error) {
	cred, ok := deps.Credentials.Get(s.Name())
	if !ok || cred.APIKey == "" {
		return nil, errs.Provider(errs.KindNotConfigured, s.Name(), nil, "missing API key")
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"source": req.Edge.FromAsset,
		"target": req.Edge.ToAsset,
		"amount": req.AmountIn,
	})
	httpReq := transportPost(s.Name(), s.baseURL+"/transfers", map[string]string{
		"Authorization": "Bearer " + cred.APIKey,
		"Content-Type":  "application/json",
	}, payload)

	resp, err := deps.Transport.Do(ctx, httpReq)
	if err != nil {
		return nil, errs.Provider(errs.KindProviderTransient, s.Name(), err, "create request failed")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, errs.Provider(classifyStatus(resp.StatusCode), s.Name(), nil, "status %d", resp.StatusCode)
	}

	var body swiftlineTransferResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, errs.Provider(errs.KindParse, s.Name(), err, "create response")
	}
	if body.TransferID == "" {
		return nil, errs.Provider(errs.KindProviderPermanent, s.Name(), nil, "create returned no id")
	}
	return &Transfer{TxnID: body.TransferID, Status: TransferPending}, nil
}

// Fund pays for a created transfer from the platform balance
func (s *Swiftline) Fund(ctx context.Context, deps Deps, txnID string) error {
	cred, ok := deps.Credentials.Get(s.Name())
	if !ok || cred.APIKey == "" {
		return errs.Provider(errs.KindNotConfigured, s.Name(), nil, "missing API key")
	}

	httpReq := transportPost(s.Name(), s.baseURL+"/transfers/"+txnID+"/fund", map[string]string{
		"Authorization": "Bearer " + cred.APIKey,
		"Content-Type":  "application/json",
	}, []byte(`{"type":"BALANCE"}`))

	resp, err := deps.Transport.Do(ctx, httpReq)
	if err != nil {
		return errs.Provider(errs.KindProviderTransient, s.Name(), err, "fund request failed")
	}
	if resp.StatusCode != http.StatusOK {
		return errs.Provider(classifyStatus(resp.StatusCode), s.Name(), nil, "status %d", resp.StatusCode)
	}
	return nil
}

// Status polls a transfer to terminal state
func (s *Swiftline) Status(ctx context.Context, deps Deps, txnID string) (*Transfer, error) {
	cred, ok := deps.Credentials.Get(s.Name())
	if !ok || cred.APIKey == "" {
		return nil, errs.Provider(errs.KindNotConfigured, s.Name(), nil, "missing API key")
	}

	req := transportGet(s.Name(), s.baseURL+"/transfers/"+txnID)
	req.Headers = map[string]string{"Authorization": "Bearer " + cred.APIKey}
	resp, err := deps.Transport.Do(ctx, req)
	if err != nil {
		return nil, errs.Provider(errs.KindProviderTransient, s.Name(), err, "status request failed")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.Provider(classifyStatus(resp.StatusCode), s.Name(), nil, "status %d", resp.StatusCode)
	}

	var body swiftlineTransferResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, errs.Provider(errs.KindParse, s.Name(), err, "status response")
	}

	out := &Transfer{TxnID: txnID, AmountOut: body.AmountOut, FeesPaid: body.FeesPaid}
	switch body.Status {
	case "settled":
		out.Status = TransferSettled
	case "failed":
		out.Status = TransferFailed
	case "cancelled":
		out.Status = TransferCancelled
	default:
		out.Status = TransferPending
	}
	return out, nil
}

// Cancel cancels a transfer that has not yet settled
func (s *Swiftline) Cancel(ctx context.Context, deps Deps, txnID string) error {
	cred, ok := deps.Credentials.Get(s.Name())
	if !ok || cred.APIKey == "" {
		return errs.Provider(errs.KindNotConfigured, s.Name(), nil, "missing API key")
	}

	httpReq := transportPost(s.Name(), s.baseURL+"/transfers/"+txnID+"/cancel", map[string]string{
		"Authorization": "Bearer " + cred.APIKey,
	}, nil)
	resp, err := deps.Transport.Do(ctx, httpReq)
	if err != nil {
		return errs.Provider(errs.KindProviderTransient, s.Name(), err, "cancel request failed")
	}
	if resp.StatusCode != http.StatusOK {
		return errs.Provider(classifyStatus(resp.StatusCode), s.Name(), nil, "status %d", resp.StatusCode)
	}
	return nil
}
