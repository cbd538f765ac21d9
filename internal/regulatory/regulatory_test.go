package regulatory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railrun/railrun/internal/model"
)

func seg(from, to string, class model.SegmentClass) model.RouteSegment {
	return model.RouteSegment{Class: class, FromAsset: from, ToAsset: to}
}

func TestConstraints_ClassSpecificRule(t *testing.T) {
	c := NewStatic(
		map[string]string{"USD": "US", "INR": "IN"},
		[]Rule{{FromJurisdiction: "US", ToJurisdiction: "IN", SegmentClass: "crypto", Reason: "licensing"}},
	)

	ok, reason := c.Allowed(seg("USD", "INR", model.ClassCrypto))
	assert.False(t, ok)
	assert.Equal(t, "licensing", reason)

	// a different class on the same corridor passes
	ok, _ = c.Allowed(seg("USD", "INR", model.ClassBankRail))
	assert.True(t, ok)

	// the reverse direction passes
	ok, _ = c.Allowed(seg("INR", "USD", model.ClassCrypto))
	assert.True(t, ok)
}

func TestConstraints_WildcardRule(t *testing.T) {
	c := NewStatic(
		map[string]string{"USD": "US", "EUR": "EU"},
		[]Rule{{FromJurisdiction: "US", ToJurisdiction: "EU", SegmentClass: "*"}},
	)

	for _, class := range []model.SegmentClass{model.ClassFX, model.ClassCrypto, model.ClassBankRail} {
		ok, _ := c.Allowed(seg("USD", "EUR", class))
		assert.False(t, ok, string(class))
	}
}

func TestConstraints_UnknownJurisdictionUnrestricted(t *testing.T) {
	c := NewStatic(
		map[string]string{"USD": "US"},
		[]Rule{{FromJurisdiction: "US", ToJurisdiction: "IN", SegmentClass: "*"}},
	)

	// BTC has no jurisdiction mapping, so nothing can prohibit it
	ok, _ := c.Allowed(seg("USD", "BTC", model.ClassCrypto))
	assert.True(t, ok)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	content := `{
		"jurisdictions": {"usd": "us", "inr": "in"},
		"prohibited": [
			{"from_jurisdiction": "US", "to_jurisdiction": "IN", "segment_class": "crypto", "reason": "r"}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	// keys are case-normalized on load
	ok, reason := c.Allowed(seg("USD", "INR", model.ClassCrypto))
	assert.False(t, ok)
	assert.Equal(t, "r", reason)
}

func TestLoad_EmptyPathPermissive(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	ok, _ := c.Allowed(seg("USD", "INR", model.ClassCrypto))
	assert.True(t, ok)
}

func TestLoad_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
