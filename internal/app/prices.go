package app

import (
	"context"
	"errors"

	"dx-bots/internal/dx"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type priceReader interface {
	Price(ctx context.Context, a, b string) (decimal.Decimal, error)
}

// fallbackPrices asks the exchange first and answers from the static table
// when the exchange has no price or cannot be read.
type fallbackPrices struct {
	primary  priceReader
	fallback priceReader
	log      *zap.Logger
}

func (p fallbackPrices) Price(ctx context.Context, a, b string) (decimal.Decimal, error) {
	price, err := p.primary.Price(ctx, a, b)
	if err == nil {
		return price, nil
	}
	if !errors.Is(err, dx.ErrPriceUnavailable) && !errors.Is(err, dx.ErrRead) {
		return decimal.Zero, err
	}
	fallback, ferr := p.fallback.Price(ctx, a, b)
	if ferr != nil {
		return decimal.Zero, err
	}
	p.log.Debug("price from static table", zap.String("pair", a+"/"+b), zap.NamedError("primary_error", err))
	return fallback, nil
}

func newPriceReader(client *dx.Client, table map[string]float64, log *zap.Logger) priceReader {
	switch {
	case client != nil && len(table) > 0:
		return fallbackPrices{primary: client, fallback: dx.NewPriceTable(table), log: log}
	case client != nil:
		return client
	case len(table) > 0:
		return dx.NewPriceTable(table)
	default:
		return nil
	}
}
