package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/railrun/railrun/internal/model"
)

// fiatAssets are the currencies frankfurter can quote
var fiatAssets = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "INR": true,
	"JPY": true, "CHF": true, "AUD": true, "CAD": true,
	"SGD": true, "MXN": true, "BRL": true,
}

// Frankfurter ingests mid-market FX rates from the frankfurter.app public
// API and emits fx-class edges for every ordered fiat pair in the target
// set. The API is keyless; rates are mid-market, so fees are zero and the
// spread is the rail's concern, not this adapter's.
type Frankfurter struct {
	baseURL string
	targets []string
}

// NewFrankfurter creates the FX rates adapter over the given asset universe
func NewFrankfurter(targets []string) *Frankfurter {
	var fiat []string
	for _, t := range targets {
		if fiatAssets[CanonicalAsset(t)] {
			fiat = append(fiat, CanonicalAsset(t))
		}
	}
	return &Frankfurter{baseURL: "https://api.frankfurter.app", targets: fiat}
}

func (f *Frankfurter) Name() string                { return "frankfurter" }
func (f *Frankfurter) Cadence() model.CadenceClass { return model.CadenceSlow }

type frankfurterResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// Fetch pulls one /latest response per base currency and fans the rates
// out into edges. A failing base does not stop the remaining bases.
func (f *Frankfurter) Fetch(ctx context.Context, deps Deps) TickResult {
	var result TickResult

	for _, base := range f.targets {
		if ctx.Err() != nil {
			// Deadline expired: the partial result stands
			return result
		}

		var quotes []string
		for _, t := range f.targets {
			if t != base {
				quotes = append(quotes, t)
			}
		}
		if len(quotes) == 0 {
			continue
		}

		url := fmt.Sprintf("%s/latest?from=%s&to=%s", f.baseURL, base, strings.Join(quotes, ","))
		resp, err := deps.Transport.Do(ctx, transportGet(f.Name(), url))
		if err != nil || resp.StatusCode != http.StatusOK {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			result.Errors = append(result.Errors, callErr(f.Name(), status, err))
			continue
		}

		var body frankfurterResponse
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			result.Errors = append(result.Errors, parseErr(f.Name(), err))
			continue
		}

		for quote, rate := range body.Rates {
			if rate <= 0 {
				continue
			}
			result.Edges = append(result.Edges, model.RouteSegment{
				Class:      model.ClassFX,
				FromAsset:  base,
				ToAsset:    CanonicalAsset(quote),
				Provider:   f.Name(),
				Cost:       model.Cost{EffectiveRate: rate},
				Latency:    model.Latency{MinMinutes: 5, MaxMinutes: 10},
				ObservedAt: deps.Clock.Now(),
			})
		}
	}
	return result
}
