package app

import (
	"time"

	"dx-bots/internal/balance"
	"dx-bots/internal/liquidity"
	"dx-bots/internal/timescale"
)

// timescaleRecorder turns bot results into time-series rows.
type timescaleRecorder struct {
	writer *timescale.Writer
}

func (r timescaleRecorder) RecordLiquidity(res liquidity.Result) {
	if r.writer == nil {
		return
	}
	check := timescale.LiquidityCheck{
		Time:          time.Now().UTC(),
		Market:        res.Market.String(),
		SellVolumeUSD: res.SellVolumeUSD.InexactFloat64(),
		Sold:          res.Sold,
	}
	if res.Sold {
		check.Token = res.Token
		check.Amount = res.Amount.InexactFloat64()
		check.TxHash = res.Receipt.TxHash
	}
	r.writer.EnqueueLiquidity(check)
}

func (r timescaleRecorder) RecordBalance(checkedAt time.Time, group balance.GroupReport) {
	if r.writer == nil {
		return
	}
	ts := checkedAt.UTC()
	r.writer.EnqueueBalance(timescale.BalanceSnapshot{
		Time:     ts,
		Group:    group.Name,
		Account:  group.Account,
		Token:    "ETH",
		Amount:   group.Ether.InexactFloat64(),
		BelowMin: group.LowEther,
	})
	low := make(map[string]struct{}, len(group.LowTokens))
	for _, token := range group.LowTokens {
		low[token] = struct{}{}
	}
	for _, tb := range group.Tokens {
		_, below := low[tb.Token]
		r.writer.EnqueueBalance(timescale.BalanceSnapshot{
			Time:      ts,
			Group:     group.Name,
			Account:   group.Account,
			Token:     tb.Token,
			Amount:    tb.Amount.InexactFloat64(),
			AmountUSD: tb.AmountUSD.InexactFloat64(),
			BelowMin:  below,
		})
	}
}
