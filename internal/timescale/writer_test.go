package timescale

import (
	"context"
	"testing"
	"time"

	"dx-bots/internal/config"

	"go.uber.org/zap"
)

func TestNewDisabled(t *testing.T) {
	w, err := New(config.TimescaleConfig{}, zap.NewNop())
	if err != nil || w != nil {
		t.Fatalf("expected nil writer when disabled, got %v %v", w, err)
	}
	if _, err := New(config.TimescaleConfig{Enabled: true}, zap.NewNop()); err == nil {
		t.Fatalf("expected error without dsn")
	}
}

func TestNilWriterIsSafe(t *testing.T) {
	var w *Writer
	w.Start(context.Background())
	w.EnqueueBalance(BalanceSnapshot{})
	w.EnqueueLiquidity(LiquidityCheck{})
	if b, c := w.Dropped(); b != 0 || c != 0 {
		t.Fatalf("expected no drops on nil writer")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	w := newWriter(nil, "", 1, zap.NewNop())
	now := time.Now()
	w.EnqueueBalance(BalanceSnapshot{Time: now, Token: "ETH"})
	w.EnqueueBalance(BalanceSnapshot{Time: now, Token: "RDN"})
	w.EnqueueBalance(BalanceSnapshot{Time: now, Token: "OMG"})
	w.EnqueueLiquidity(LiquidityCheck{Time: now, Market: "ETH-RDN"})
	w.EnqueueLiquidity(LiquidityCheck{Time: now, Market: "ETH-OMG"})

	balances, checks := w.Dropped()
	if balances != 2 || checks != 1 {
		t.Fatalf("expected 2 and 1 drops, got %d and %d", balances, checks)
	}
	if got := (<-w.balances).Token; got != "ETH" {
		t.Fatalf("expected first row kept, got %s", got)
	}
	if w.table("balance_snapshots") != "public.balance_snapshots" {
		t.Fatalf("unexpected table name %s", w.table("balance_snapshots"))
	}
}
