package regulatory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/railrun/railrun/internal/model"
)

// Rule prohibits a segment class on a corridor. Anything not listed is
// allowed; the rule set is a deny-list loaded once at init.
type Rule struct {
	FromJurisdiction string `json:"from_jurisdiction"`
	ToJurisdiction   string `json:"to_jurisdiction"`
	SegmentClass     string `json:"segment_class"` // "*" matches every class
	Reason           string `json:"reason,omitempty"`
}

// Constraints answers corridor admissibility questions for the routing
// constraint predicate. Immutable after construction.
type Constraints struct {
	prohibited map[string]string // corridor key -> reason
	// jurisdiction of each asset, e.g. USD -> US, INR -> IN
	jurisdictions map[string]string
}

type rulesFile struct {
	Jurisdictions map[string]string `json:"jurisdictions"`
	Prohibited    []Rule            `json:"prohibited"`
}

// Load reads the corridor rule file. An empty path yields permissive
// constraints.
func Load(path string) (*Constraints, error) {
	c := &Constraints{
		prohibited:    make(map[string]string),
		jurisdictions: make(map[string]string),
	}
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read regulatory rules: %w", err)
	}
	var file rulesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse regulatory rules: %w", err)
	}

	for asset, j := range file.Jurisdictions {
		c.jurisdictions[strings.ToUpper(asset)] = strings.ToUpper(j)
	}
	for _, rule := range file.Prohibited {
		c.prohibited[corridorKey(rule.FromJurisdiction, rule.ToJurisdiction, rule.SegmentClass)] = rule.Reason
	}
	return c, nil
}

// NewStatic builds constraints from in-memory rules, for tests
func NewStatic(jurisdictions map[string]string, rules []Rule) *Constraints {
	c := &Constraints{
		prohibited:    make(map[string]string),
		jurisdictions: make(map[string]string),
	}
	for asset, j := range jurisdictions {
		c.jurisdictions[strings.ToUpper(asset)] = strings.ToUpper(j)
	}
	for _, rule := range rules {
		c.prohibited[corridorKey(rule.FromJurisdiction, rule.ToJurisdiction, rule.SegmentClass)] = rule.Reason
	}
	return c
}

// Allowed reports whether the edge is admissible, with the rule reason
// when it is not. Assets without a known jurisdiction are unrestricted.
func (c *Constraints) Allowed(seg model.RouteSegment) (bool, string) {
	from, okFrom := c.jurisdictions[seg.FromAsset]
	to, okTo := c.jurisdictions[seg.ToAsset]
	if !okFrom || !okTo {
		return true, ""
	}
	if reason, hit := c.prohibited[corridorKey(from, to, string(seg.Class))]; hit {
		return false, reason
	}
	if reason, hit := c.prohibited[corridorKey(from, to, "*")]; hit {
		return false, reason
	}
	return true, ""
}

func corridorKey(from, to, class string) string {
	return strings.ToUpper(from) + "->" + strings.ToUpper(to) + ":" + strings.ToLower(class)
}
