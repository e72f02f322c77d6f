package balance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dx-bots/internal/alerts"
	"dx-bots/internal/metrics"
	"dx-bots/internal/throttle"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const ActionName = "BALANCE-CHECK"

// Group is one operator wallet and the tokens it must hold.
type Group struct {
	Name    string         `json:"name"`
	Account common.Address `json:"account"`
	Tokens  []string       `json:"tokens"`
}

type Thresholds struct {
	MinEther    decimal.Decimal
	MinTokenUSD decimal.Decimal
}

// Notifier is the throttled alert path.
type Notifier interface {
	TryNotify(ctx context.Context, class throttle.AlertClass, msg alerts.Message) (throttle.Result, error)
}

type Recorder interface {
	RecordBalance(checkedAt time.Time, group GroupReport)
}

type GroupReport struct {
	Name      string          `json:"name"`
	Account   string          `json:"account"`
	Ether     decimal.Decimal `json:"ether"`
	Tokens    []TokenBalance  `json:"tokens"`
	LowEther  bool            `json:"lowEther"`
	LowTokens []string        `json:"lowTokens,omitempty"`
	Error     string          `json:"error,omitempty"`

	err error
}

type Report struct {
	OK        bool          `json:"ok"`
	CheckedAt time.Time     `json:"checkedAt"`
	Groups    []GroupReport `json:"groups"`
}

type Info struct {
	Groups          []Group         `json:"groups"`
	MinimumEther    decimal.Decimal `json:"minimumEther"`
	MinimumTokenUSD decimal.Decimal `json:"minimumTokenUSD"`
	LastCheck       *time.Time      `json:"lastCheck,omitempty"`
	LastWarn        *time.Time      `json:"lastWarnNotification,omitempty"`
	LastError       *time.Time      `json:"lastError,omitempty"`
}

type Option func(*Monitor)

func WithRecorder(r Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

func WithConcurrency(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

type Monitor struct {
	groups      []Group
	reader      Reader
	notifier    Notifier
	thresholds  Thresholds
	concurrency int
	recorder    Recorder
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() time.Time

	mu        sync.Mutex
	lastCheck time.Time
	lastWarn  time.Time
	lastError time.Time
}

func New(groups []Group, reader Reader, notifier Notifier, thresholds Thresholds, m *metrics.Metrics, log *zap.Logger, opts ...Option) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	mon := &Monitor{
		groups:      append([]Group(nil), groups...),
		reader:      reader,
		notifier:    notifier,
		thresholds:  thresholds,
		concurrency: 4,
		metrics:     metrics.OrNoop(m),
		log:         log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(mon)
	}
	return mon
}

func (m *Monitor) Groups() []Group {
	return append([]Group(nil), m.groups...)
}

// Check fetches every group, then alerts on the ones that are below a floor.
// A group that fails to read does not stop the others; its error is joined
// into the returned error and the report is not OK.
func (m *Monitor) Check(ctx context.Context) (Report, error) {
	checkedAt := m.now()
	m.mu.Lock()
	m.lastCheck = checkedAt
	m.mu.Unlock()

	reports := make([]GroupReport, len(m.groups))
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, group := range m.groups {
		g.Go(func() error {
			reports[i] = m.fetch(ctx, group)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{OK: true, CheckedAt: checkedAt, Groups: reports}
	var errs []error
	for i := range reports {
		gr := &reports[i]
		if gr.err != nil {
			report.OK = false
			errs = append(errs, gr.err)
			m.metrics.BalanceChecksFailed.Inc()
			m.log.Error("balance check failed",
				zap.String("group", gr.Name),
				zap.String("account", gr.Account),
				zap.Error(gr.err),
			)
			continue
		}
		m.evaluate(ctx, m.groups[i], gr)
		if m.recorder != nil {
			m.recorder.RecordBalance(checkedAt, *gr)
		}
	}
	if len(errs) > 0 {
		m.mu.Lock()
		m.lastError = checkedAt
		m.mu.Unlock()
		return report, errors.Join(errs...)
	}
	return report, nil
}

func (m *Monitor) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{
		Groups:          m.Groups(),
		MinimumEther:    m.thresholds.MinEther,
		MinimumTokenUSD: m.thresholds.MinTokenUSD,
		LastCheck:       timePtr(m.lastCheck),
		LastWarn:        timePtr(m.lastWarn),
		LastError:       timePtr(m.lastError),
	}
}

func (m *Monitor) fetch(ctx context.Context, group Group) GroupReport {
	gr := GroupReport{Name: group.Name, Account: group.Account.Hex()}
	ether, err := m.reader.EtherBalance(ctx, group.Account)
	if err != nil {
		gr.err = fmt.Errorf("group %s: %w", group.Name, err)
		gr.Error = gr.err.Error()
		return gr
	}
	gr.Ether = ether
	if len(group.Tokens) > 0 {
		tokens, err := m.reader.TokenBalances(ctx, group.Account, group.Tokens)
		if err != nil {
			gr.err = fmt.Errorf("group %s: %w", group.Name, err)
			gr.Error = gr.err.Error()
			return gr
		}
		gr.Tokens = tokens
	}
	return gr
}

func (m *Monitor) evaluate(ctx context.Context, group Group, gr *GroupReport) {
	log := m.log.With(zap.String("group", group.Name), zap.String("account", gr.Account))

	if gr.Ether.LessThan(m.thresholds.MinEther) {
		gr.LowEther = true
		m.warned()
		log.Warn("ether balance below minimum",
			zap.String("ether", gr.Ether.String()),
			zap.String("minimum", m.thresholds.MinEther.String()),
		)
		m.notify(ctx, log, throttle.AlertClass{Kind: throttle.EtherBalanceLow, Scope: group.Name}, m.etherMessage(group, gr))
	}

	var low []TokenBalance
	for _, tb := range gr.Tokens {
		if tb.AmountUSD.LessThan(m.thresholds.MinTokenUSD) {
			low = append(low, tb)
			gr.LowTokens = append(gr.LowTokens, tb.Token)
		}
	}
	if len(low) == 0 {
		log.Debug("token balances above minimum")
		return
	}
	m.warned()
	log.Warn("token balances below minimum", zap.String("tokens", strings.Join(gr.LowTokens, ", ")))
	m.notify(ctx, log, throttle.AlertClass{Kind: throttle.TokenBalanceLow, Scope: group.Name}, m.tokenMessage(group, gr, low))
}

func (m *Monitor) notify(ctx context.Context, log *zap.Logger, class throttle.AlertClass, msg alerts.Message) {
	res, err := m.notifier.TryNotify(ctx, class, msg)
	switch {
	case err != nil:
		log.Warn("balance alert failed", zap.String("class", class.String()), zap.Error(err))
	case !res.Sent:
		log.Debug("balance alert sent too soon", zap.String("class", class.String()), zap.Time("next_allowed", res.NextAllowed))
	}
}

func (m *Monitor) etherMessage(group Group, gr *GroupReport) alerts.Message {
	return alerts.Message{
		Title: "The bot account has ETHER balance below " + m.thresholds.MinEther.String(),
		Level: alerts.LevelDanger,
		Fields: []alerts.Field{
			{Title: "Ether balance", Value: gr.Ether.RoundDown(4).String() + " ETH"},
			{Title: "Bot account", Value: gr.Account},
			{Title: "Affected Bots", Value: group.Name},
		},
	}
}

func (m *Monitor) tokenMessage(group Group, gr *GroupReport, low []TokenBalance) alerts.Message {
	fields := []alerts.Field{
		{Title: "Bot account", Value: gr.Account},
		{Title: "Affected Bots", Value: group.Name},
	}
	for _, tb := range low {
		fields = append(fields, alerts.Field{
			Title: tb.Token,
			Value: fmt.Sprintf("%s %s ($%s)", tb.Amount.RoundDown(4), tb.Token, tb.AmountUSD.StringFixed(2)),
		})
	}
	return alerts.Message{
		Title:  fmt.Sprintf("The bot account has tokens below the %s USD worth of value", m.thresholds.MinTokenUSD),
		Text:   "The tokens below the threshold are:",
		Level:  alerts.LevelDanger,
		Fields: fields,
	}
}

func (m *Monitor) warned() {
	m.mu.Lock()
	m.lastWarn = m.now()
	m.mu.Unlock()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
