package liquidity

import (
	"context"
	"fmt"

	"dx-bots/internal/dx"
	"dx-bots/internal/exec"
	"dx-bots/internal/market"
	"dx-bots/internal/metrics"
	"dx-bots/internal/state"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const ActionName = "SELL-LIQUIDITY"

// shortfallPrecision is the number of decimal places kept on sell amounts.
const shortfallPrecision = 18

type PriceReader interface {
	Price(ctx context.Context, a, b string) (decimal.Decimal, error)
}

type VolumeReader interface {
	SellVolume(ctx context.Context, sellToken, buyToken string) (decimal.Decimal, error)
}

type Seller interface {
	Sell(ctx context.Context, order exec.Order) (state.Receipt, error)
}

// Recorder receives every completed check.
type Recorder interface {
	RecordLiquidity(result Result)
}

type Result struct {
	Market        market.Market   `json:"market"`
	SellVolumeUSD decimal.Decimal `json:"sellVolumeUSD"`
	Sold          bool            `json:"sold"`
	Token         string          `json:"token,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Receipt       state.Receipt   `json:"receipt"`
}

type Agent struct {
	prices     PriceReader
	volumes    VolumeReader
	seller     Seller
	operator   string
	minimumUSD decimal.Decimal
	recorder   Recorder
	metrics    *metrics.Metrics
	log        *zap.Logger
}

type Option func(*Agent)

func WithRecorder(r Recorder) Option {
	return func(a *Agent) { a.recorder = r }
}

func New(prices PriceReader, volumes VolumeReader, seller Seller, operator string, minimumUSD decimal.Decimal, m *metrics.Metrics, log *zap.Logger, opts ...Option) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Agent{
		prices:     prices,
		volumes:    volumes,
		seller:     seller,
		operator:   operator,
		minimumUSD: minimumUSD,
		metrics:    metrics.OrNoop(m),
		log:        log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key is the action key guarding Ensure for m. Both token orders give the
// same key.
func Key(m market.Market) string {
	return m.Key(ActionName)
}

// Ensure tops up the market with a sell of its second token when the sell
// volume posted on both directions is worth less than the minimum.
func (a *Agent) Ensure(ctx context.Context, m market.Market) (Result, error) {
	m = m.Canonical()
	res := Result{Market: m}
	log := a.log.With(zap.String("market", m.String()))

	usd, priceBUSD, err := a.sellVolumeUSD(ctx, m)
	if err != nil {
		log.Warn("liquidity check failed", zap.Error(err))
		return res, fmt.Errorf("ensure liquidity %s: %w", m, err)
	}
	res.SellVolumeUSD = usd

	if usd.GreaterThanOrEqual(a.minimumUSD) {
		log.Debug("liquidity sufficient", zap.String("sell_volume_usd", usd.StringFixed(2)))
		a.record(res)
		return res, nil
	}

	shortfall := a.minimumUSD.Sub(usd).DivRound(priceBUSD, shortfallPrecision)
	log.Info("liquidity below minimum",
		zap.String("sell_volume_usd", usd.StringFixed(2)),
		zap.String("minimum_usd", a.minimumUSD.StringFixed(2)),
		zap.String("shortfall", shortfall.String()),
		zap.String("token", m.TokenB),
	)
	receipt, err := a.seller.Sell(ctx, exec.Order{
		Account:   a.operator,
		SellToken: m.TokenB,
		BuyToken:  m.TokenA,
		Amount:    shortfall,
	})
	if err != nil {
		log.Warn("liquidity sell failed",
			zap.String("shortfall", shortfall.String()),
			zap.String("token", m.TokenB),
			zap.Error(err),
		)
		return res, fmt.Errorf("ensure liquidity %s: sell %s %s: %w", m, shortfall, m.TokenB, err)
	}
	a.metrics.LiquiditySales.Inc()
	res.Sold = true
	res.Token = m.TokenB
	res.Amount = shortfall
	res.Receipt = receipt
	a.record(res)
	return res, nil
}

// sellVolumeUSD values the posted sell volume of both directions in USD
// and also returns the USD price of the market's second token.
func (a *Agent) sellVolumeUSD(ctx context.Context, m market.Market) (decimal.Decimal, decimal.Decimal, error) {
	priceAB, err := a.prices.Price(ctx, m.TokenA, m.TokenB)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	priceBUSD, err := a.prices.Price(ctx, m.TokenB, market.USD)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if !priceBUSD.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: non-positive usd price for %s", dx.ErrPriceUnavailable, m.TokenB)
	}
	volA, err := a.volumes.SellVolume(ctx, m.TokenA, m.TokenB)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	volB, err := a.volumes.SellVolume(ctx, m.TokenB, m.TokenA)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	volInB := volA.Mul(priceAB).Add(volB)
	return volInB.Mul(priceBUSD), priceBUSD, nil
}

func (a *Agent) record(res Result) {
	if a.recorder != nil {
		a.recorder.RecordLiquidity(res)
	}
}
