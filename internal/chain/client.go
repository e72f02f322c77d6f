package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"dx-bots/internal/dx"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const etherDecimals = 18

var erc20BalanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int32
}

// Client reads ether and ERC20 balances over JSON-RPC. Every call carries
// its own timeout.
type Client struct {
	eth     *ethclient.Client
	tokens  map[string]Token
	timeout time.Duration
	log     *zap.Logger
}

func Dial(ctx context.Context, rpcURL string, timeout time.Duration, tokens []Token, log *zap.Logger) (*Client, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return nil, fmt.Errorf("ethereum rpc url missing")
	}
	if log == nil {
		log = zap.NewNop()
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}
	bySymbol := make(map[string]Token, len(tokens))
	for _, token := range tokens {
		token.Symbol = strings.ToUpper(strings.TrimSpace(token.Symbol))
		bySymbol[token.Symbol] = token
	}
	return &Client{eth: eth, tokens: bySymbol, timeout: timeout, log: log}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) EtherBalance(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	wei, err := c.eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: ether balance of %s: %v", dx.ErrRead, account.Hex(), err)
	}
	return decimal.NewFromBigInt(wei, -etherDecimals), nil
}

func (c *Client) TokenBalance(ctx context.Context, account common.Address, symbol string) (decimal.Decimal, error) {
	token, ok := c.tokens[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unknown token %s", dx.ErrRead, symbol)
	}
	data := make([]byte, 0, 4+32)
	data = append(data, erc20BalanceOfSelector...)
	data = append(data, common.LeftPadBytes(account.Bytes(), 32)...)

	ctx, cancel := c.callContext(ctx)
	defer cancel()
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token.Address, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s balanceOf(%s): %v", dx.ErrRead, token.Symbol, account.Hex(), err)
	}
	if len(out) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s balanceOf returned empty result", dx.ErrRead, token.Symbol)
	}
	raw := new(big.Int).SetBytes(out)
	return decimal.NewFromBigInt(raw, -token.Decimals), nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
