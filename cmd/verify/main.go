package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"dx-bots/internal/alerts"
	"dx-bots/internal/balance"
	"dx-bots/internal/chain"
	"dx-bots/internal/config"
	"dx-bots/internal/dx"
	"dx-bots/internal/exec"
	"dx-bots/internal/liquidity"
	"dx-bots/internal/logging"
	"dx-bots/internal/market"
	"dx-bots/internal/state"
	"dx-bots/internal/throttle"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultVerifyEnvFile = ".env"

// dryRunSeller records the sell the liquidity bot would place.
type dryRunSeller struct{}

func (dryRunSeller) Sell(_ context.Context, order exec.Order) (state.Receipt, error) {
	id := order.ClientOrderID
	if id == "" {
		id = uuid.NewString()
	}
	return state.Receipt{
		ClientOrderID: id,
		Account:       order.Account,
		SellToken:     order.SellToken,
		BuyToken:      order.BuyToken,
		Amount:        order.Amount.String(),
		SubmittedAt:   time.Now().UTC(),
	}, nil
}

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	skipLiquidity := flag.Bool("skip-liquidity", false, "do not check market liquidity")
	skipBalances := flag.Bool("skip-balances", false, "do not check account balances")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var prices liquidity.PriceReader
	var dxClient *dx.Client
	if cfg.DX.BaseURL != "" {
		dxClient = dx.New(cfg.DX.BaseURL, cfg.DX.Timeout, log)
		prices = dxClient
	} else if len(cfg.Prices) > 0 {
		prices = dx.NewPriceTable(cfg.Prices)
	}

	failed := false
	if !*skipLiquidity && cfg.Liquidity.Enabled {
		if err := verifyLiquidity(ctx, cfg, prices, dxClient, log); err != nil {
			log.Error("liquidity verify failed", zap.Error(err))
			failed = true
		}
	}
	if !*skipBalances && cfg.Balance.Enabled {
		if prices == nil {
			fatal(errors.New("balance verify requires dx.base_url or a prices table"))
		}
		if err := verifyBalances(ctx, cfg, prices, log); err != nil {
			log.Error("balance verify failed", zap.Error(err))
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

// verifyLiquidity runs the liquidity check for every market without placing
// any sell.
func verifyLiquidity(ctx context.Context, cfg *config.Config, prices liquidity.PriceReader, dxClient *dx.Client, log *zap.Logger) error {
	if dxClient == nil {
		return errors.New("dx.base_url is required")
	}
	markets, err := market.ParseAll(cfg.Markets)
	if err != nil {
		return err
	}
	operator, err := chain.ResolveAddress(cfg.Liquidity.Operator.Address, cfg.Liquidity.Operator.PrivateKeyEnv)
	if err != nil {
		return fmt.Errorf("liquidity operator: %w", err)
	}
	agent := liquidity.New(prices, dxClient, dryRunSeller{}, operator.Hex(), decimal.NewFromFloat(cfg.Liquidity.MinimumSellVolumeUSD), nil, log)
	var errs []error
	for _, m := range markets {
		res, err := agent.Ensure(ctx, m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		printJSON(map[string]any{
			"market":        res.Market.String(),
			"sellVolumeUSD": res.SellVolumeUSD.StringFixed(2),
			"wouldSell":     res.Sold,
			"token":         res.Token,
			"amount":        res.Amount.String(),
		})
	}
	return errors.Join(errs...)
}

func verifyBalances(ctx context.Context, cfg *config.Config, prices balance.PriceReader, log *zap.Logger) error {
	tokens := make([]chain.Token, 0, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		if !common.IsHexAddress(token.Address) {
			return fmt.Errorf("token %s has invalid address %q", token.Symbol, token.Address)
		}
		tokens = append(tokens, chain.Token{Symbol: token.Symbol, Address: common.HexToAddress(token.Address), Decimals: token.Decimals})
	}
	client, err := chain.Dial(ctx, cfg.Ethereum.RPCURL, cfg.Ethereum.Timeout, tokens, log)
	if err != nil {
		return err
	}
	defer client.Close()

	groups := make([]balance.Group, 0, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		address, err := chain.ResolveAddress(acct.Address, acct.PrivateKeyEnv)
		if err != nil {
			return fmt.Errorf("account %s: %w", acct.Name, err)
		}
		symbols := make([]string, 0, len(acct.Tokens))
		for _, s := range acct.Tokens {
			symbols = append(symbols, strings.ToUpper(strings.TrimSpace(s)))
		}
		groups = append(groups, balance.Group{Name: acct.Name, Account: address, Tokens: symbols})
	}
	// Alerts are never delivered from here.
	quiet := throttle.New(cfg.Notification.Cooldown, throttle.Immediate, alerts.Noop{}, nil, zap.NewNop())
	mon := balance.New(groups, balance.NewChainReader(client, prices), quiet, balance.Thresholds{
		MinEther:    decimal.NewFromFloat(cfg.Balance.MinimumEther),
		MinTokenUSD: decimal.NewFromFloat(cfg.Balance.MinimumTokenUSD),
	}, nil, log, balance.WithConcurrency(cfg.Balance.Concurrency))
	report, err := mon.Check(ctx)
	printJSON(report)
	return err
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "verify: %v\n", err)
	os.Exit(1)
}
