package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"dx-bots/internal/alerts"
	"dx-bots/internal/balance"
	"dx-bots/internal/chain"
	"dx-bots/internal/config"
	"dx-bots/internal/dx"
	"dx-bots/internal/events"
	"dx-bots/internal/exec"
	"dx-bots/internal/liquidity"
	"dx-bots/internal/lock"
	"dx-bots/internal/market"
	"dx-bots/internal/metrics"
	"dx-bots/internal/scheduler"
	"dx-bots/internal/state/sqlite"
	"dx-bots/internal/throttle"
	"dx-bots/internal/timescale"
	"dx-bots/internal/ws"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// runner is the part of a scheduler the app drives.
type runner interface {
	Start(ctx context.Context)
	Stop()
	Wait(ctx context.Context) error
	InFlight() []string
}

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	bus       *events.Bus
	events    *ws.Client
	feed      *events.Feed
	chain     *chain.Client
	executor  *exec.Executor
	throttle  *throttle.Throttle
	monitor   *balance.Monitor
	markets   []market.Market
	runners   []runner
	timescale *timescale.Writer
	startedAt time.Time
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		metrics:   metrics.NewNoop(),
		bus:       events.NewBus(log),
		startedAt: time.Now().UTC(),
	}
	if cfg.Metrics.EnabledValue() {
		a.prom = metrics.NewPrometheus()
		a.metrics = a.prom.Metrics
	}
	if err := a.init(cfg, log); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(cfg *config.Config, log *zap.Logger) error {
	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return fmt.Errorf("timescale: %w", err)
	}
	a.timescale = writer
	recorder := timescaleRecorder{writer: writer}

	var dxClient *dx.Client
	if cfg.DX.BaseURL != "" {
		dxClient = dx.New(cfg.DX.BaseURL, cfg.DX.Timeout, log)
	}
	prices := newPriceReader(dxClient, cfg.Prices, log)

	if cfg.Events.URL != "" {
		a.events = ws.New(cfg.Events.URL, cfg.Events.ReconnectDelay, cfg.Events.PingInterval, log)
		a.feed = events.NewFeed(a.events, a.bus, log)
	}

	if cfg.Liquidity.Enabled {
		if err := a.initLiquidity(cfg, dxClient, prices, recorder, log); err != nil {
			return err
		}
	}
	if cfg.Balance.Enabled {
		if prices == nil {
			return errors.New("balance bot requires dx.base_url or a prices table")
		}
		if err := a.initBalance(cfg, prices, recorder, log); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) initLiquidity(cfg *config.Config, dxClient *dx.Client, prices liquidity.PriceReader, recorder timescaleRecorder, log *zap.Logger) error {
	markets, err := market.ParseAll(cfg.Markets)
	if err != nil {
		return err
	}
	operator, err := chain.ResolveAddress(cfg.Liquidity.Operator.Address, cfg.Liquidity.Operator.PrivateKeyEnv)
	if err != nil {
		return fmt.Errorf("liquidity operator: %w", err)
	}
	a.markets = markets
	a.executor = exec.New(dxClient, a.store, a.metrics, log)

	opts := []liquidity.Option{}
	if a.timescale != nil {
		opts = append(opts, liquidity.WithRecorder(recorder))
	}
	agent := liquidity.New(
		prices,
		dxClient,
		a.executor,
		operator.Hex(),
		decimal.NewFromFloat(cfg.Liquidity.MinimumSellVolumeUSD),
		a.metrics,
		log.Named("liquidity"),
		opts...,
	)
	job := liquidity.Job(agent, markets, cfg.Liquidity.CheckInterval, log.Named("liquidity"))
	sched, err := scheduler.New(job, lock.New[liquidity.Result](), a.bus, a.metrics, log)
	if err != nil {
		return err
	}
	a.runners = append(a.runners, sched)
	log.Info("liquidity bot configured",
		zap.Strings("markets", marketNames(markets)),
		zap.String("operator", operator.Hex()),
	)
	return nil
}

func (a *App) initBalance(cfg *config.Config, prices balance.PriceReader, recorder timescaleRecorder, log *zap.Logger) error {
	tokens := make([]chain.Token, 0, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		if !common.IsHexAddress(token.Address) {
			return fmt.Errorf("token %s has invalid address %q", token.Symbol, token.Address)
		}
		tokens = append(tokens, chain.Token{
			Symbol:   token.Symbol,
			Address:  common.HexToAddress(token.Address),
			Decimals: token.Decimals,
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Ethereum.Timeout)
	defer cancel()
	chainClient, err := chain.Dial(ctx, cfg.Ethereum.RPCURL, cfg.Ethereum.Timeout, tokens, log)
	if err != nil {
		return err
	}
	a.chain = chainClient

	groups := make([]balance.Group, 0, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		address, err := chain.ResolveAddress(acct.Address, acct.PrivateKeyEnv)
		if err != nil {
			return fmt.Errorf("account %s: %w", acct.Name, err)
		}
		symbols := make([]string, 0, len(acct.Tokens))
		for _, symbol := range acct.Tokens {
			symbols = append(symbols, strings.ToUpper(strings.TrimSpace(symbol)))
		}
		groups = append(groups, balance.Group{Name: acct.Name, Account: address, Tokens: symbols})
	}

	a.throttle = throttle.New(
		cfg.Notification.Cooldown,
		throttle.FirstAlertPolicy(cfg.Notification.FirstAlert),
		newNotifier(cfg.Notification, log),
		a.metrics,
		log.Named("throttle"),
	)
	opts := []balance.Option{balance.WithConcurrency(cfg.Balance.Concurrency)}
	if a.timescale != nil {
		opts = append(opts, balance.WithRecorder(recorder))
	}
	a.monitor = balance.New(
		groups,
		balance.NewChainReader(chainClient, prices),
		a.throttle,
		balance.Thresholds{
			MinEther:    decimal.NewFromFloat(cfg.Balance.MinimumEther),
			MinTokenUSD: decimal.NewFromFloat(cfg.Balance.MinimumTokenUSD),
		},
		a.metrics,
		log.Named("balance"),
		opts...,
	)
	sched, err := scheduler.New(balance.Job(a.monitor, cfg.Balance.CheckInterval, log.Named("balance")), lock.New[balance.Report](), a.bus, a.metrics, log)
	if err != nil {
		return err
	}
	a.runners = append(a.runners, sched)
	log.Info("balance bot configured", zap.Int("groups", len(groups)))
	return nil
}

// Run starts every bot and blocks until ctx ends, then stops the triggers
// and waits up to the shutdown timeout for in-flight work.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	a.timescale.Start(ctx)

	var server *http.Server
	if a.cfg.Metrics.EnabledValue() {
		server = &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: a.Router(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("status server failed", zap.Error(err))
			}
		}()
		a.log.Info("status server listening", zap.String("addr", a.cfg.Metrics.ListenAddr))
	}

	if a.feed != nil {
		go func() {
			if err := a.feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("event feed stopped", zap.Error(err))
			}
		}()
	}
	for _, r := range a.runners {
		r.Start(ctx)
	}
	a.log.Info("bots started", zap.Int("schedulers", len(a.runners)))

	<-ctx.Done()
	a.log.Info("shutting down")
	for _, r := range a.runners {
		r.Stop()
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	for _, r := range a.runners {
		if err := r.Wait(drainCtx); err != nil {
			a.log.Warn("in-flight work did not drain", zap.Strings("keys", r.InFlight()), zap.Error(err))
			break
		}
	}
	if server != nil {
		if err := server.Shutdown(drainCtx); err != nil {
			a.log.Warn("status server shutdown failed", zap.Error(err))
		}
	}
	return ctx.Err()
}

// InFlight lists the action keys running across every bot.
func (a *App) InFlight() []string {
	keys := []string{}
	for _, r := range a.runners {
		keys = append(keys, r.InFlight()...)
	}
	sort.Strings(keys)
	return keys
}

func (a *App) close() {
	if a.events != nil {
		_ = a.events.Close()
	}
	if a.chain != nil {
		a.chain.Close()
	}
	if err := a.timescale.Close(); err != nil {
		a.log.Warn("timescale close failed", zap.Error(err))
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func newNotifier(cfg config.NotificationConfig, log *zap.Logger) alerts.Notifier {
	var out alerts.Multi
	if cfg.Slack.Enabled {
		out = append(out, alerts.NewSlack(cfg.Slack, log))
	}
	if cfg.Telegram.Enabled {
		out = append(out, alerts.NewTelegram(cfg.Telegram, log))
	}
	switch len(out) {
	case 0:
		log.Warn("no notification transport enabled; balance alerts are logged only")
		return alerts.Noop{}
	case 1:
		return out[0]
	default:
		return out
	}
}

func marketNames(markets []market.Market) []string {
	out := make([]string, 0, len(markets))
	for _, m := range markets {
		out = append(out, m.String())
	}
	return out
}
