package exec

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"dx-bots/internal/metrics"
	"dx-bots/internal/state"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Order struct {
	Account       string
	SellToken     string
	BuyToken      string
	Amount        decimal.Decimal
	ClientOrderID string
}

// Submitter posts a sell to the exchange and returns the transaction hash.
type Submitter interface {
	Sell(ctx context.Context, account, sellToken, buyToken string, amount decimal.Decimal, clientID string) (string, error)
}

// Executor submits sells exactly once per client order id and journals the
// receipts.
type Executor struct {
	submitter Submitter
	store     state.Store
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]state.Receipt
}

func New(submitter Submitter, store state.Store, m *metrics.Metrics, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		submitter: submitter,
		store:     store,
		metrics:   metrics.OrNoop(m),
		log:       log,
		now:       time.Now,
		cache:     make(map[string]state.Receipt),
	}
}

// Sell submits order once. A missing client order id is generated. A
// repeated client order id returns the earlier receipt without submitting.
func (e *Executor) Sell(ctx context.Context, order Order) (state.Receipt, error) {
	if !order.Amount.IsPositive() {
		return state.Receipt{}, errors.New("sell amount must be positive")
	}
	if strings.TrimSpace(order.ClientOrderID) == "" {
		order.ClientOrderID = uuid.NewString()
	}
	if receipt, ok, err := e.lookup(ctx, order.ClientOrderID); err != nil {
		return state.Receipt{}, err
	} else if ok {
		return receipt, nil
	}

	txHash, err := e.submitter.Sell(ctx, order.Account, order.SellToken, order.BuyToken, order.Amount, order.ClientOrderID)
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		return state.Receipt{}, err
	}
	e.metrics.OrdersPlaced.Inc()
	receipt := state.Receipt{
		ClientOrderID: order.ClientOrderID,
		TxHash:        txHash,
		Account:       order.Account,
		SellToken:     order.SellToken,
		BuyToken:      order.BuyToken,
		Amount:        order.Amount.String(),
		SubmittedAt:   e.now().UTC(),
	}
	if err := state.SaveReceipt(ctx, e.store, receipt); err != nil {
		e.log.Warn("failed to persist receipt", zap.String("client_order_id", order.ClientOrderID), zap.Error(err))
	}
	e.mu.Lock()
	e.cache[order.ClientOrderID] = receipt
	e.mu.Unlock()
	return receipt, nil
}

// Recent returns the latest journaled receipts, newest first.
func (e *Executor) Recent(ctx context.Context, limit int) ([]state.Receipt, error) {
	if e.store == nil {
		e.mu.Lock()
		out := make([]state.Receipt, 0, len(e.cache))
		for _, r := range e.cache {
			out = append(out, r)
		}
		e.mu.Unlock()
		return sortReceipts(out, limit), nil
	}
	return state.RecentReceipts(ctx, e.store, limit)
}

func (e *Executor) lookup(ctx context.Context, clientOrderID string) (state.Receipt, bool, error) {
	e.mu.Lock()
	receipt, ok := e.cache[clientOrderID]
	e.mu.Unlock()
	if ok {
		return receipt, true, nil
	}
	receipt, ok, err := state.LoadReceipt(ctx, e.store, clientOrderID)
	if err != nil || !ok {
		return state.Receipt{}, false, err
	}
	e.mu.Lock()
	e.cache[clientOrderID] = receipt
	e.mu.Unlock()
	return receipt, true, nil
}

func sortReceipts(receipts []state.Receipt, limit int) []state.Receipt {
	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].SubmittedAt.After(receipts[j].SubmittedAt)
	})
	if limit > 0 && len(receipts) > limit {
		receipts = receipts[:limit]
	}
	return receipts
}
