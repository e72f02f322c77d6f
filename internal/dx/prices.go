package dx

import (
	"context"
	"fmt"
	"strings"

	"dx-bots/internal/market"

	"github.com/shopspring/decimal"
)

// PriceTable prices tokens from a fixed table of USD values.
type PriceTable struct {
	usd map[string]decimal.Decimal
}

func NewPriceTable(usd map[string]float64) *PriceTable {
	table := make(map[string]decimal.Decimal, len(usd))
	for symbol, price := range usd {
		table[strings.ToUpper(strings.TrimSpace(symbol))] = decimal.NewFromFloat(price)
	}
	return &PriceTable{usd: table}
}

func (p *PriceTable) Price(_ context.Context, a, b string) (decimal.Decimal, error) {
	a, b = strings.ToUpper(a), strings.ToUpper(b)
	usdA, ok := p.usd[a]
	if !ok || !usdA.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no usd price for %s", ErrPriceUnavailable, a)
	}
	if b == market.USD {
		return usdA, nil
	}
	usdB, ok := p.usd[b]
	if !ok || !usdB.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no usd price for %s", ErrPriceUnavailable, b)
	}
	return usdA.Div(usdB), nil
}
