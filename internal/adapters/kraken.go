package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/railrun/railrun/internal/errs"
	"github.com/railrun/railrun/internal/model"
)

// krakenPairs maps the canonical pairs we quote to Kraken's native pair
// names. Both directions of each pair are emitted; the reverse rate is the
// reciprocal of the last trade price.
var krakenPairs = map[string]string{
	"BTC/USD":  "XXBTZUSD",
	"BTC/EUR":  "XXBTZEUR",
	"ETH/USD":  "XETHZUSD",
	"USDC/USD": "USDCUSD",
	"USDC/EUR": "USDCEUR",
}

// krakenTakerFeePercent is the spot taker fee at the base tier
const krakenTakerFeePercent = 0.26

// Kraken ingests spot ticker prices from Kraken's public REST API and, on
// the execution side, places and tracks orders through the private API.
// Both sides trade on the exchange's internal ledger, so every edge lives
// on the "kraken" network.
type Kraken struct {
	baseURL string
	targets map[string]bool
}

// NewKraken creates the Kraken adapter over the given asset universe
func NewKraken(targets []string) *Kraken {
	set := make(map[string]bool, len(targets))
	for _, t := range targets {
		set[CanonicalAsset(t)] = true
	}
	return &Kraken{baseURL: "https://api.kraken.com/0", targets: set}
}

func (k *Kraken) Name() string                { return "kraken" }
func (k *Kraken) Cadence() model.CadenceClass { return model.CadenceFast }

type krakenTickerResponse struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		C []string `json:"c"` // last trade [price, lot volume]
	} `json:"result"`
}

// Fetch pulls the ticker for every configured pair in one call
func (k *Kraken) Fetch(ctx context.Context, deps Deps) TickResult {
	var result TickResult

	var wanted []string
	pairAssets := make(map[string][2]string)
	for pair, native := range krakenPairs {
		assets := strings.SplitN(pair, "/", 2)
		if k.targets[assets[0]] && k.targets[assets[1]] {
			wanted = append(wanted, native)
			pairAssets[native] = [2]string{assets[0], assets[1]}
		}
	}
	if len(wanted) == 0 {
		return result
	}

	url := fmt.Sprintf("%s/public/Ticker?pair=%s", k.baseURL, strings.Join(wanted, ","))
	resp, err := deps.Transport.Do(ctx, transportGet(k.Name(), url))
	if err != nil || resp.StatusCode != http.StatusOK {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		result.Errors = append(result.Errors, callErr(k.Name(), status, err))
		return result
	}

	var body krakenTickerResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		result.Errors = append(result.Errors, parseErr(k.Name(), err))
		return result
	}
	if len(body.Error) > 0 {
		result.Errors = append(result.Errors, CallError{
			Provider: k.Name(), Kind: errs.KindProviderPermanent,
			Message: strings.Join(body.Error, "; "),
		})
		return result
	}

	now := deps.Clock.Now()
	for native, ticker := range body.Result {
		assets, ok := pairAssets[native]
		if !ok || len(ticker.C) == 0 {
			continue
		}
		price, err := strconv.ParseFloat(ticker.C[0], 64)
		if err != nil || price <= 0 {
			result.Errors = append(result.Errors, parseErr(k.Name(), fmt.Errorf("pair %s: bad price %q", native, ticker.C[0])))
			continue
		}

		base, quote := assets[0], assets[1]
		for _, dir := range []struct {
			from, to string
			rate     float64
		}{
			{base, quote, price},
			{quote, base, 1 / price},
		} {
			result.Edges = append(result.Edges, model.RouteSegment{
				Class:       model.ClassCrypto,
				FromAsset:   dir.from,
				ToAsset:     dir.to,
				FromNetwork: "kraken",
				ToNetwork:   "kraken",
				Provider:    k.Name(),
				Cost:        model.Cost{FeePercent: krakenTakerFeePercent, EffectiveRate: dir.rate},
				Latency:     model.Latency{MinMinutes: 0, MaxMinutes: 1},
				ObservedAt:  now,
			})
		}
	}
	return result
}

type krakenOrderResponse struct {
	Error  []string `json:"error"`
	Result struct {
		Txid []string `json:"txid"`
	} `json:"result"`
}

type krakenQueryResponse struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		Status  string `json:"status"` // pending, open, closed, canceled, expired
		VolExec string `json:"vol_exec"`
		Fee     string `json:"fee"`
	} `json:"result"`
}

// Create places a market order for the edge's conversion. Requires API
// credentials; missing credentials surface as NotConfigured.
func (k *Kraken) Create(ctx context.Context, deps Deps, req TransferRequest) (*Transfer, error) {
	cred, ok := deps.Credentials.Get(k.Name())
	if !ok || cred.APIKey == "" {
		return nil, errs.Provider(errs.KindNotConfigured, k.Name(), nil, "missing API credentials")
	}

	native := k.nativePair(req.Edge)
	if native == "" {
		return nil, errs.Provider(errs.KindValidation, k.Name(), nil,
			"no tradable pair for %s->%s", req.Edge.FromAsset, req.Edge.ToAsset)
	}

	payload := fmt.Sprintf("pair=%s&type=sell&ordertype=market&volume=%s",
		native, strconv.FormatFloat(req.AmountIn, 'f', -1, 64))
	resp, err := k.privateCall(ctx, deps, cred.APIKey, "/private/AddOrder", payload)
	if err != nil {
		return nil, err
	}

	var body krakenOrderResponse
	if err := json.Unmarshal(resp, &body); err != nil {
		return nil, errs.Provider(errs.KindParse, k.Name(), err, "AddOrder response")
	}
	if len(body.Error) > 0 {
		return nil, k.apiError(body.Error)
	}
	if len(body.Result.Txid) == 0 {
		return nil, errs.Provider(errs.KindProviderPermanent, k.Name(), nil, "AddOrder returned no txid")
	}
	return &Transfer{TxnID: body.Result.Txid[0], Status: TransferPending}, nil
}

// Fund is a no-op: exchange orders are funded from the account balance
func (k *Kraken) Fund(ctx context.Context, deps Deps, txnID string) error {
	return nil
}

// Status queries the order until it closes
func (k *Kraken) Status(ctx context.Context, deps Deps, txnID string) (*Transfer, error) {
	cred, ok := deps.Credentials.Get(k.Name())
	if !ok || cred.APIKey == "" {
		return nil, errs.Provider(errs.KindNotConfigured, k.Name(), nil, "missing API credentials")
	}

	resp, err := k.privateCall(ctx, deps, cred.APIKey, "/private/QueryOrders", "txid="+txnID)
	if err != nil {
		return nil, err
	}

	var body krakenQueryResponse
	if err := json.Unmarshal(resp, &body); err != nil {
		return nil, errs.Provider(errs.KindParse, k.Name(), err, "QueryOrders response")
	}
	if len(body.Error) > 0 {
		return nil, k.apiError(body.Error)
	}

	order, ok := body.Result[txnID]
	if !ok {
		return nil, errs.Provider(errs.KindProviderPermanent, k.Name(), nil, "order %s not found", txnID)
	}

	out := &Transfer{TxnID: txnID}
	switch order.Status {
	case "closed":
		out.Status = TransferSettled
		out.AmountOut, _ = strconv.ParseFloat(order.VolExec, 64)
		out.FeesPaid, _ = strconv.ParseFloat(order.Fee, 64)
	case "canceled", "expired":
		out.Status = TransferCancelled
	default:
		out.Status = TransferPending
	}
	return out, nil
}

// Cancel cancels a still-open order. Modify on this rail is cancel plus
// recreate, driven by the executor.
func (k *Kraken) Cancel(ctx context.Context, deps Deps, txnID string) error {
	cred, ok := deps.Credentials.Get(k.Name())
	if !ok || cred.APIKey == "" {
		return errs.Provider(errs.KindNotConfigured, k.Name(), nil, "missing API credentials")
	}

	resp, err := k.privateCall(ctx, deps, cred.APIKey, "/private/CancelOrder", "txid="+txnID)
	if err != nil {
		return err
	}
	var body krakenOrderResponse
	if err := json.Unmarshal(resp, &body); err != nil {
		return errs.Provider(errs.KindParse, k.Name(), err, "CancelOrder response")
	}
	if len(body.Error) > 0 {
		return k.apiError(body.Error)
	}
	return nil
}

func (k *Kraken) privateCall(ctx context.Context, deps Deps, apiKey, path, payload string) ([]byte, error) {
	resp, err := deps.Transport.Do(ctx, transportPost(k.Name(), k.baseURL+path, map[string]string{
		"API-Key":      apiKey,
		"Content-Type": "application/x-www-form-urlencoded",
	}, []byte(payload)))
	if err != nil {
		return nil, errs.Provider(errs.KindProviderTransient, k.Name(), err, "request failed")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.Provider(classifyStatus(resp.StatusCode), k.Name(), nil, "status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (k *Kraken) apiError(apiErrors []string) error {
	msg := strings.Join(apiErrors, "; ")
	kind := errs.KindProviderPermanent
	switch {
	case strings.Contains(msg, "EAPI:Rate limit"):
		kind = errs.KindRateLimited
	case strings.Contains(msg, "EAPI:Invalid key"), strings.Contains(msg, "EAPI:Invalid signature"):
		kind = errs.KindProviderAuth
	case strings.Contains(msg, "EService:Unavailable"), strings.Contains(msg, "EService:Busy"):
		kind = errs.KindProviderTransient
	}
	return errs.Provider(kind, k.Name(), nil, "%s", msg)
}

func (k *Kraken) nativePair(seg model.RouteSegment) string {
	if native, ok := krakenPairs[seg.FromAsset+"/"+seg.ToAsset]; ok {
		return native
	}
	if native, ok := krakenPairs[seg.ToAsset+"/"+seg.FromAsset]; ok {
		return native
	}
	return ""
}
