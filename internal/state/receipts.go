package state

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"
)

const receiptPrefix = "receipt:"

// Receipt records a submitted sell. It is informational: nothing reads it
// back to decide whether an action should run.
type Receipt struct {
	ClientOrderID string    `json:"client_order_id"`
	TxHash        string    `json:"tx_hash"`
	Account       string    `json:"account"`
	SellToken     string    `json:"sell_token"`
	BuyToken      string    `json:"buy_token"`
	Amount        string    `json:"amount"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

func ReceiptKey(clientOrderID string) string {
	return receiptPrefix + clientOrderID
}

func SaveReceipt(ctx context.Context, store Store, receipt Receipt) error {
	if store == nil {
		return nil
	}
	if strings.TrimSpace(receipt.ClientOrderID) == "" {
		return errors.New("receipt client order id is required")
	}
	payload, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	return store.Set(ctx, ReceiptKey(receipt.ClientOrderID), string(payload))
}

func LoadReceipt(ctx context.Context, store Store, clientOrderID string) (Receipt, bool, error) {
	if store == nil {
		return Receipt{}, false, nil
	}
	raw, ok, err := store.Get(ctx, ReceiptKey(clientOrderID))
	if err != nil || !ok || strings.TrimSpace(raw) == "" {
		return Receipt{}, false, err
	}
	var receipt Receipt
	if err := json.Unmarshal([]byte(raw), &receipt); err != nil {
		return Receipt{}, false, err
	}
	return receipt, true, nil
}

// RecentReceipts returns up to limit receipts, newest first. A non-positive
// limit returns all of them.
func RecentReceipts(ctx context.Context, store Store, limit int) ([]Receipt, error) {
	if store == nil {
		return nil, nil
	}
	items, err := store.List(ctx, receiptPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Receipt, 0, len(items))
	for _, raw := range items {
		var receipt Receipt
		if err := json.Unmarshal([]byte(raw), &receipt); err != nil {
			continue
		}
		out = append(out, receipt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ClientOrderID < out[j].ClientOrderID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
