package market

import (
	"fmt"
	"sort"
	"strings"
)

// USD is the reference currency symbol for valuations.
const USD = "USD"

// Market is an unordered pair of token symbols. The zero value is invalid.
type Market struct {
	TokenA string `json:"tokenA"`
	TokenB string `json:"tokenB"`
}

func New(a, b string) Market {
	return Market{TokenA: normalize(a), TokenB: normalize(b)}
}

// Parse reads "A-B" and returns the market as written.
func Parse(raw string) (Market, error) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	if len(parts) != 2 {
		return Market{}, fmt.Errorf("market %q must be in the form A-B", raw)
	}
	m := New(parts[0], parts[1])
	if err := m.Validate(); err != nil {
		return Market{}, fmt.Errorf("market %q: %w", raw, err)
	}
	return m, nil
}

func (m Market) Validate() error {
	if m.TokenA == "" || m.TokenB == "" {
		return fmt.Errorf("both token symbols are required")
	}
	if m.TokenA == m.TokenB {
		return fmt.Errorf("tokens must differ")
	}
	return nil
}

// Canonical orders the tokens lexicographically so that A-B and B-A are
// the same market.
func (m Market) Canonical() Market {
	if m.TokenB < m.TokenA {
		return Market{TokenA: m.TokenB, TokenB: m.TokenA}
	}
	return m
}

func (m Market) String() string {
	return m.TokenA + "-" + m.TokenB
}

// Key builds the action key for an action scoped to this market.
func (m Market) Key(action string) string {
	return action + ":" + m.Canonical().String()
}

// ParseAll parses, canonicalizes and de-duplicates a market list. The
// result is sorted.
func ParseAll(raw []string) ([]Market, error) {
	seen := make(map[Market]struct{}, len(raw))
	out := make([]Market, 0, len(raw))
	for _, r := range raw {
		m, err := Parse(r)
		if err != nil {
			return nil, err
		}
		m = m.Canonical()
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
