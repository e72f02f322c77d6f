package liquidity

import (
	"context"
	"errors"
	"time"

	"dx-bots/internal/events"
	"dx-bots/internal/lock"
	"dx-bots/internal/market"
	"dx-bots/internal/scheduler"

	"go.uber.org/zap"
)

// Job wires the agent to the auction-cleared event and to a periodic sweep
// over markets.
func Job(agent *Agent, markets []market.Market, interval time.Duration, log *zap.Logger) scheduler.Job[market.Market, Result] {
	if log == nil {
		log = zap.NewNop()
	}
	scopes := append([]market.Market(nil), markets...)
	known := make(map[market.Market]struct{}, len(scopes))
	for _, m := range scopes {
		known[m.Canonical()] = struct{}{}
	}
	return scheduler.Job[market.Market, Result]{
		Name:     "sell-liquidity",
		Interval: interval,
		Scopes:   func() []market.Market { return scopes },
		Topic:    events.TopicAuctionCleared,
		Scope: func(payload any) (market.Market, bool) {
			ev, ok := payload.(events.AuctionCleared)
			if !ok {
				return market.Market{}, false
			}
			m := market.New(ev.SellToken, ev.BuyToken)
			if m.Validate() != nil {
				return market.Market{}, false
			}
			if _, ok := known[m.Canonical()]; !ok {
				log.Debug("auction cleared for unmanaged market", zap.String("market", m.String()))
				return market.Market{}, false
			}
			return m, true
		},
		Key: Key,
		Run: agent.Ensure,
		Report: func(m market.Market, out lock.Outcome[Result]) {
			report(log, m, out)
		},
	}
}

func report(log *zap.Logger, m market.Market, out lock.Outcome[Result]) {
	log = log.With(zap.String("market", m.Canonical().String()))
	switch {
	case out.Joined && out.Err == nil:
		log.Info("already ensuring liquidity")
	case out.Err != nil:
		if errors.Is(out.Err, lock.ErrPanic) || errors.Is(out.Err, context.Canceled) || errors.Is(out.Err, context.DeadlineExceeded) {
			log.Error("ensure liquidity aborted", zap.Bool("joined", out.Joined), zap.Error(out.Err))
		}
	case out.Value.Sold:
		log.Info("ensured liquidity",
			zap.String("sold", out.Value.Amount.String()),
			zap.String("token", out.Value.Token),
			zap.String("tx_hash", out.Value.Receipt.TxHash),
		)
	default:
		log.Debug("liquidity already sufficient", zap.String("sell_volume_usd", out.Value.SellVolumeUSD.StringFixed(2)))
	}
}
