package keys

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// MinRefreshMs is the lowest refresh interval accepted.
	MinRefreshMs = 5000

	// DefaultRefreshMs is used until the user picks an interval.
	DefaultRefreshMs = 30000

	// MaxRefreshMs caps stored intervals at one day.
	MaxRefreshMs = 24 * 60 * 60 * 1000
)

// View is the layout mode of the fund list.
type View string

const (
	ViewCard View = "card"
	ViewList View = "list"
)

// ParseView validates a view mode name.
func ParseView(s string) (View, error) {
	switch View(s) {
	case ViewCard, ViewList:
		return View(s), nil
	default:
		return "", fmt.Errorf("view mode must be %q or %q (got %q)", ViewCard, ViewList, s)
	}
}

// Group is a named set of fund codes.
type Group struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Codes []string `json:"codes"`
}

// NewGroup returns an empty group with a freshly generated id.
func NewGroup(name string) Group {
	return Group{
		ID:    "group_" + uuid.NewString(),
		Name:  name,
		Codes: []string{},
	}
}

// Validate checks the group fields.
func (g Group) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("group id is required")
	}
	if strings.TrimSpace(g.Name) == "" {
		return fmt.Errorf("group name is required")
	}
	return nil
}

// AddCodes appends codes not already in the group and reports how many
// were added.
func (g *Group) AddCodes(codes ...string) int {
	seen := make(map[string]bool, len(g.Codes))
	for _, c := range g.Codes {
		seen[c] = true
	}
	added := 0
	for _, c := range codes {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		g.Codes = append(g.Codes, c)
		added++
	}
	return added
}

// RemoveCode drops code from the group.
func (g *Group) RemoveCode(code string) {
	out := g.Codes[:0]
	for _, c := range g.Codes {
		if c != code {
			out = append(out, c)
		}
	}
	g.Codes = out
}

// Position is the user's holding in one fund.
type Position struct {
	Share decimal.Decimal `json:"share"`
	Cost  decimal.Decimal `json:"cost"`
}

// Validate rejects negative holdings.
func (p Position) Validate() error {
	if p.Share.IsNegative() {
		return fmt.Errorf("share must not be negative (got %s)", p.Share)
	}
	if p.Cost.IsNegative() {
		return fmt.Errorf("cost must not be negative (got %s)", p.Cost)
	}
	return nil
}

// Amount returns the total cost basis (share * cost).
func (p Position) Amount() decimal.Decimal {
	return p.Share.Mul(p.Cost)
}

// Decode converts a JSON-decoded value (as returned by the stores) into T
// by round-tripping it through encoding/json.
func Decode[T any](v any) (T, error) {
	var out T
	if v == nil {
		return out, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("failed to encode value: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}

// Encode converts a typed value into the generic JSON shape stored by the
// sync engine.
func Encode(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}

// RefreshInterval reads a refreshMs value, falling back to the default when
// it is missing, malformed, or below the minimum.
func RefreshInterval(v any) int {
	var ms float64
	switch n := v.(type) {
	case float64:
		ms = n
	case int:
		ms = float64(n)
	case int64:
		ms = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return DefaultRefreshMs
		}
		ms = f
	default:
		return DefaultRefreshMs
	}
	switch {
	case math.IsNaN(ms), ms < MinRefreshMs:
		return DefaultRefreshMs
	case ms > MaxRefreshMs:
		return MaxRefreshMs
	}
	return int(ms)
}

// ValidateRefreshMs checks a user-supplied interval.
func ValidateRefreshMs(ms int) error {
	if ms < MinRefreshMs {
		return fmt.Errorf("refresh interval must be at least %dms (got %d)", MinRefreshMs, ms)
	}
	return nil
}

// CodeSet reads a favorites or collapsedCodes value as a sorted, duplicate
// free list of codes. Non-string entries are ignored.
func CodeSet(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return []string{}
	}
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok || s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Toggle adds code to set if absent, removes it otherwise.
func Toggle(set []string, code string) []string {
	out := make([]string, 0, len(set)+1)
	found := false
	for _, c := range set {
		if c == code {
			found = true
			continue
		}
		out = append(out, c)
	}
	if !found {
		out = append(out, code)
	}
	return out
}

// DedupeFunds keeps the first record for each code and drops records
// without one.
func DedupeFunds(list []any) []any {
	seen := make(map[string]bool, len(list))
	out := make([]any, 0, len(list))
	for _, item := range list {
		rec, ok := item.(map[string]any)
		if !ok {
			continue
		}
		code, _ := rec["code"].(string)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, rec)
	}
	return out
}
