package adapters

import (
	"strings"

	"github.com/railrun/railrun/internal/model"
)

// assetAliases collapses provider-specific symbols to canonical assets
// before emission. Curated, not exhaustive; unknown symbols pass through
// uppercased.
var assetAliases = map[string]string{
	"XBT":  "BTC",
	"XXBT": "BTC",
	"XETH": "ETH",
	"ZUSD": "USD",
	"ZEUR": "EUR",
	"ZGBP": "GBP",
	"USDT": "USDT",
	"UST":  "USDT",
}

// reliabilityDefaults assigns a per-class score when the provider does not
// supply one.
var reliabilityDefaults = map[model.SegmentClass]float64{
	model.ClassFX:       0.95,
	model.ClassBankRail: 0.98,
	model.ClassCrypto:   0.90,
	model.ClassBridge:   0.88,
	model.ClassOnRamp:   0.85,
	model.ClassOffRamp:  0.85,
}

// CanonicalAsset uppercases and de-aliases a provider asset symbol
func CanonicalAsset(sym string) string {
	up := strings.ToUpper(strings.TrimSpace(sym))
	if canon, ok := assetAliases[up]; ok {
		return canon
	}
	return up
}

// Normalize brings a raw adapter edge into canonical form and validates
// it. Normalization is idempotent: a normalized edge passes through
// unchanged. Edges that fail validation are dropped (nil, false).
func Normalize(seg model.RouteSegment) (model.RouteSegment, bool) {
	seg.FromAsset = CanonicalAsset(seg.FromAsset)
	seg.ToAsset = CanonicalAsset(seg.ToAsset)
	seg.FromNetwork = strings.ToLower(strings.TrimSpace(seg.FromNetwork))
	seg.ToNetwork = strings.ToLower(strings.TrimSpace(seg.ToNetwork))
	seg.Provider = strings.ToLower(strings.TrimSpace(seg.Provider))

	if seg.ReliabilityScore == 0 {
		seg.ReliabilityScore = reliabilityDefaults[seg.Class]
	}

	if err := seg.Validate(); err != nil {
		return model.RouteSegment{}, false
	}
	return seg, true
}

// NormalizeAll filters a batch through Normalize, dropping invalid edges
func NormalizeAll(segs []model.RouteSegment) []model.RouteSegment {
	out := make([]model.RouteSegment, 0, len(segs))
	for _, seg := range segs {
		if n, ok := Normalize(seg); ok {
			out = append(out, n)
		}
	}
	return out
}
