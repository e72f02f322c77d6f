package balance

import (
	"context"
	"fmt"

	"dx-bots/internal/market"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type TokenBalance struct {
	Token     string          `json:"token"`
	Amount    decimal.Decimal `json:"amount"`
	AmountUSD decimal.Decimal `json:"amountUSD"`
}

// Reader fetches the balances of one account.
type Reader interface {
	EtherBalance(ctx context.Context, account common.Address) (decimal.Decimal, error)
	TokenBalances(ctx context.Context, account common.Address, tokens []string) ([]TokenBalance, error)
}

type ChainBalances interface {
	EtherBalance(ctx context.Context, account common.Address) (decimal.Decimal, error)
	TokenBalance(ctx context.Context, account common.Address, symbol string) (decimal.Decimal, error)
}

type PriceReader interface {
	Price(ctx context.Context, a, b string) (decimal.Decimal, error)
}

// ChainReader reads balances on chain and values tokens in USD.
type ChainReader struct {
	chain  ChainBalances
	prices PriceReader
}

func NewChainReader(chain ChainBalances, prices PriceReader) *ChainReader {
	return &ChainReader{chain: chain, prices: prices}
}

func (r *ChainReader) EtherBalance(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	return r.chain.EtherBalance(ctx, account)
}

func (r *ChainReader) TokenBalances(ctx context.Context, account common.Address, tokens []string) ([]TokenBalance, error) {
	out := make([]TokenBalance, 0, len(tokens))
	for _, token := range tokens {
		amount, err := r.chain.TokenBalance(ctx, account, token)
		if err != nil {
			return nil, err
		}
		price, err := r.prices.Price(ctx, token, market.USD)
		if err != nil {
			return nil, fmt.Errorf("value %s: %w", token, err)
		}
		out = append(out, TokenBalance{
			Token:     token,
			Amount:    amount,
			AmountUSD: amount.Mul(price),
		})
	}
	return out, nil
}
