package adapters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railrun/railrun/internal/model"
)

func rawEdge() model.RouteSegment {
	return model.RouteSegment{
		Class:      model.ClassCrypto,
		FromAsset:  "xbt",
		ToAsset:    "zusd",
		Provider:   "Kraken",
		Cost:       model.Cost{EffectiveRate: 64000},
		Latency:    model.Latency{MaxMinutes: 1},
		ObservedAt: time.Now(),
	}
}

func TestCanonicalAsset(t *testing.T) {
	tests := []struct{ in, want string }{
		{"XBT", "BTC"},
		{"xxbt", "BTC"},
		{"ZUSD", "USD"},
		{"zeur", "EUR"},
		{"UST", "USDT"},
		{" eth ", "ETH"},
		{"USDC", "USDC"}, // unknown symbols pass through uppercased
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanonicalAsset(tt.in), tt.in)
	}
}

func TestNormalize_CanonicalizesAndDefaults(t *testing.T) {
	seg, ok := Normalize(rawEdge())
	require.True(t, ok)

	assert.Equal(t, "BTC", seg.FromAsset)
	assert.Equal(t, "USD", seg.ToAsset)
	assert.Equal(t, "kraken", seg.Provider)
	assert.Equal(t, 0.90, seg.ReliabilityScore, "crypto default reliability")
}

func TestNormalize_KeepsProviderReliability(t *testing.T) {
	raw := rawEdge()
	raw.ReliabilityScore = 0.75
	seg, ok := Normalize(raw)
	require.True(t, ok)
	assert.Equal(t, 0.75, seg.ReliabilityScore)
}

func TestNormalize_Idempotent(t *testing.T) {
	once, ok := Normalize(rawEdge())
	require.True(t, ok)
	twice, ok := Normalize(once)
	require.True(t, ok)
	assert.Equal(t, once, twice)
}

func TestNormalize_DropsInvalid(t *testing.T) {
	bad := rawEdge()
	bad.Cost.EffectiveRate = 0
	_, ok := Normalize(bad)
	assert.False(t, ok)

	bad = rawEdge()
	bad.Cost.FeePercent = 150
	_, ok = Normalize(bad)
	assert.False(t, ok)
}

func TestNormalizeAll_FiltersBatch(t *testing.T) {
	good := rawEdge()
	bad := rawEdge()
	bad.Cost.EffectiveRate = -1

	out := NormalizeAll([]model.RouteSegment{good, bad, good})
	assert.Len(t, out, 2)
}

func TestReliabilityDefaults_CoverEveryClass(t *testing.T) {
	for _, class := range []model.SegmentClass{
		model.ClassFX, model.ClassCrypto, model.ClassBridge,
		model.ClassOnRamp, model.ClassOffRamp, model.ClassBankRail,
	} {
		assert.Greater(t, reliabilityDefaults[class], 0.0, string(class))
	}
}
