package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"dx-bots/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// BalanceSnapshot is one group's balance as seen by a balance check. Ether
// rows use the token "ETH".
type BalanceSnapshot struct {
	Time      time.Time
	Group     string
	Account   string
	Token     string
	Amount    float64
	AmountUSD float64
	BelowMin  bool
}

type LiquidityCheck struct {
	Time          time.Time
	Market        string
	SellVolumeUSD float64
	Sold          bool
	Token         string
	Amount        float64
	TxHash        string
}

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	balances   chan BalanceSnapshot
	checks     chan LiquidityCheck
	started    atomic.Bool
	dropBal    atomic.Uint64
	dropChecks atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg.Schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:       db,
		log:      log,
		schema:   schema,
		balances: make(chan BalanceSnapshot, queueSize),
		checks:   make(chan LiquidityCheck, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// EnqueueBalance never blocks; rows are dropped while the queue is full.
func (w *Writer) EnqueueBalance(snap BalanceSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.balances <- snap:
	default:
		if w.dropBal.Add(1) == 1 {
			w.log.Warn("timescale balance queue full")
		}
	}
}

func (w *Writer) EnqueueLiquidity(check LiquidityCheck) {
	if w == nil {
		return
	}
	select {
	case w.checks <- check:
	default:
		if w.dropChecks.Add(1) == 1 {
			w.log.Warn("timescale liquidity queue full")
		}
	}
}

// Dropped reports how many balance and liquidity rows were discarded.
func (w *Writer) Dropped() (balances, checks uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropBal.Load(), w.dropChecks.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.balances:
			w.writeBalance(ctx, snap)
		case check := <-w.checks:
			w.writeLiquidity(ctx, check)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		grp TEXT NOT NULL,
		account TEXT NOT NULL,
		token TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		amount_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		below_min BOOLEAN NOT NULL
	)`, w.table("balance_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		market TEXT NOT NULL,
		sell_volume_usd DOUBLE PRECISION NOT NULL,
		sold BOOLEAN NOT NULL,
		token TEXT NOT NULL DEFAULT '',
		amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		tx_hash TEXT NOT NULL DEFAULT ''
	)`, w.table("liquidity_checks"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"balance_snapshots", "liquidity_checks"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeBalance(ctx context.Context, snap BalanceSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, grp, account, token, amount, amount_usd, below_min
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`, w.table("balance_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Group,
		snap.Account,
		snap.Token,
		snap.Amount,
		snap.AmountUSD,
		snap.BelowMin,
	); err != nil {
		w.log.Warn("timescale balance insert failed", zap.Error(err))
	}
}

func (w *Writer) writeLiquidity(ctx context.Context, check LiquidityCheck) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, market, sell_volume_usd, sold, token, amount, tx_hash
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`, w.table("liquidity_checks"))
	if _, err := w.db.ExecContext(ctx, query,
		check.Time,
		check.Market,
		check.SellVolumeUSD,
		check.Sold,
		check.Token,
		check.Amount,
		check.TxHash,
	); err != nil {
		w.log.Warn("timescale liquidity insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
