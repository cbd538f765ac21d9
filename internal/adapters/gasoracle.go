package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/railrun/railrun/internal/model"
)

// gasTransferGasUnits is the gas a plain ERC-20 transfer consumes
const gasTransferGasUnits = 65000

// withdrawableAssets are the assets with an exchange-ledger <-> chain
// withdrawal path this adapter prices.
var withdrawableAssets = []struct {
	asset   string
	network string
}{
	{"USDC", "ethereum"},
	{"ETH", "ethereum"},
	{"USDC", "polygon"},
}

// GasOracle ingests the current gas price from an etherscan-style gas
// tracker and emits crypto-class withdrawal edges between the exchange
// ledger and the chain, with the gas cost as the fixed fee. The rate is
// 1:1; a withdrawal moves the asset, it does not convert it.
type GasOracle struct {
	baseURL  string
	ethPrice float64 // USD per ETH, used to express gas as asset-unit fees
	targets  map[string]bool
}

// NewGasOracle creates the gas tracker adapter over the given universe
func NewGasOracle(targets []string) *GasOracle {
	set := make(map[string]bool, len(targets))
	for _, t := range targets {
		set[CanonicalAsset(t)] = true
	}
	return &GasOracle{baseURL: "https://api.etherscan.io/api", ethPrice: 2500, targets: set}
}

func (g *GasOracle) Name() string                { return "gasoracle" }
func (g *GasOracle) Cadence() model.CadenceClass { return model.CadenceFast }

type gasOracleResponse struct {
	Status string `json:"status"`
	Result struct {
		ProposeGasPrice string `json:"ProposeGasPrice"` // gwei
	} `json:"result"`
}

// Fetch reads the proposed gas price and prices every withdrawal edge
func (g *GasOracle) Fetch(ctx context.Context, deps Deps) TickResult {
	var result TickResult

	url := g.baseURL + "?module=gastracker&action=gasoracle"
	if cred, ok := deps.Credentials.Get(g.Name()); ok && cred.APIKey != "" {
		url += "&apikey=" + cred.APIKey
	}

	resp, err := deps.Transport.Do(ctx, transportGet(g.Name(), url))
	if err != nil || resp.StatusCode != http.StatusOK {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		result.Errors = append(result.Errors, callErr(g.Name(), status, err))
		return result
	}

	var body gasOracleResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		result.Errors = append(result.Errors, parseErr(g.Name(), err))
		return result
	}
	gwei, err := strconv.ParseFloat(body.Result.ProposeGasPrice, 64)
	if err != nil || gwei <= 0 {
		result.Errors = append(result.Errors, parseErr(g.Name(), fmt.Errorf("bad gas price %q", body.Result.ProposeGasPrice)))
		return result
	}

	// Gas cost of one transfer in ETH, then in USD for stablecoin fees
	gasETH := gwei * 1e-9 * gasTransferGasUnits
	gasUSD := gasETH * g.ethPrice

	now := deps.Clock.Now()
	for _, w := range withdrawableAssets {
		if !g.targets[w.asset] {
			continue
		}
		fixedFee := gasUSD
		if w.asset == "ETH" {
			fixedFee = gasETH
		}
		if w.network == "polygon" {
			// L2 gas is a small fraction of mainnet
			fixedFee /= 50
		}
		for _, dir := range []struct{ fromNet, toNet string }{
			{"kraken", w.network},
			{w.network, "kraken"},
		} {
			result.Edges = append(result.Edges, model.RouteSegment{
				Class:       model.ClassCrypto,
				FromAsset:   w.asset,
				ToAsset:     w.asset,
				FromNetwork: dir.fromNet,
				ToNetwork:   dir.toNet,
				Provider:    g.Name(),
				Cost:        model.Cost{FixedFee: fixedFee, EffectiveRate: 1},
				Latency:     model.Latency{MinMinutes: 2, MaxMinutes: 15},
				ObservedAt:  now,
			})
		}
	}
	return result
}
