package balance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dx-bots/internal/alerts"
	"dx-bots/internal/dx"
	"dx-bots/internal/throttle"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeReader struct {
	ether  map[common.Address]decimal.Decimal
	tokens map[common.Address][]TokenBalance
	fail   map[common.Address]error
}

func (f *fakeReader) EtherBalance(_ context.Context, account common.Address) (decimal.Decimal, error) {
	if err := f.fail[account]; err != nil {
		return decimal.Zero, err
	}
	return f.ether[account], nil
}

func (f *fakeReader) TokenBalances(_ context.Context, account common.Address, _ []string) ([]TokenBalance, error) {
	return f.tokens[account], nil
}

type attempt struct {
	class throttle.AlertClass
	msg   alerts.Message
}

type fakeNotifier struct {
	mu       sync.Mutex
	attempts []attempt
	err      error
}

func (f *fakeNotifier) TryNotify(_ context.Context, class throttle.AlertClass, msg alerts.Message) (throttle.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt{class: class, msg: msg})
	if f.err != nil {
		return throttle.Result{}, f.err
	}
	return throttle.Result{Sent: true}, nil
}

func (f *fakeNotifier) count(kind throttle.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.attempts {
		if a.class.Kind == kind {
			n++
		}
	}
	return n
}

var (
	botsA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	botsB = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func thresholds() Thresholds {
	return Thresholds{MinEther: decimal.RequireFromString("0.4"), MinTokenUSD: decimal.NewFromInt(5000)}
}

func healthyTokens() []TokenBalance {
	return []TokenBalance{
		{Token: "WETH", Amount: decimal.NewFromInt(10), AmountUSD: decimal.NewFromInt(10000)},
		{Token: "RDN", Amount: decimal.NewFromInt(2000), AmountUSD: decimal.NewFromInt(8000)},
	}
}

func TestCheckEtherLowOnly(t *testing.T) {
	reader := &fakeReader{
		ether:  map[common.Address]decimal.Decimal{botsA: decimal.RequireFromString("0.1")},
		tokens: map[common.Address][]TokenBalance{botsA: healthyTokens()},
	}
	notifier := &fakeNotifier{}
	mon := New([]Group{{Name: "liquidity-bots", Account: botsA, Tokens: []string{"WETH", "RDN"}}}, reader, notifier, thresholds(), nil, zap.NewNop())

	report, err := mon.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.OK || len(report.Groups) != 1 || !report.Groups[0].LowEther {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := notifier.count(throttle.EtherBalanceLow); got != 1 {
		t.Fatalf("expected one ether alert attempt, got %d", got)
	}
	if got := notifier.count(throttle.TokenBalanceLow); got != 0 {
		t.Fatalf("expected no token alert attempt, got %d", got)
	}
	a := notifier.attempts[0]
	if a.class.Scope != "liquidity-bots" || a.msg.Level != alerts.LevelDanger {
		t.Fatalf("unexpected alert %+v", a)
	}
	if a.msg.Fields[0].Value != "0.1 ETH" || a.msg.Fields[1].Value != botsA.Hex() {
		t.Fatalf("unexpected fields %+v", a.msg.Fields)
	}
	if mon.Info().LastWarn == nil {
		t.Fatalf("expected last warn to be set")
	}
}

func TestCheckCombinesLowTokens(t *testing.T) {
	reader := &fakeReader{
		ether: map[common.Address]decimal.Decimal{botsA: decimal.NewFromInt(1)},
		tokens: map[common.Address][]TokenBalance{botsA: {
			{Token: "WETH", Amount: decimal.NewFromInt(1), AmountUSD: decimal.NewFromInt(1000)},
			{Token: "RDN", Amount: decimal.NewFromInt(2000), AmountUSD: decimal.NewFromInt(8000)},
			{Token: "OMG", Amount: decimal.RequireFromString("12.345678"), AmountUSD: decimal.RequireFromString("61.73")},
		}},
	}
	notifier := &fakeNotifier{}
	mon := New([]Group{{Name: "liquidity-bots", Account: botsA, Tokens: []string{"WETH", "RDN", "OMG"}}}, reader, notifier, thresholds(), nil, zap.NewNop())

	report, err := mon.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if notifier.count(throttle.TokenBalanceLow) != 1 || notifier.count(throttle.EtherBalanceLow) != 0 {
		t.Fatalf("expected a single token alert, got %+v", notifier.attempts)
	}
	if got := strings.Join(report.Groups[0].LowTokens, ","); got != "WETH,OMG" {
		t.Fatalf("expected WETH,OMG low, got %s", got)
	}
	fields := notifier.attempts[0].msg.Fields
	if len(fields) != 4 {
		t.Fatalf("expected account, bots and two token fields, got %+v", fields)
	}
	if fields[3].Title != "OMG" || fields[3].Value != "12.3456 OMG ($61.73)" {
		t.Fatalf("unexpected token field %+v", fields[3])
	}
}

func TestCheckIsolatesFailingGroup(t *testing.T) {
	reader := &fakeReader{
		ether:  map[common.Address]decimal.Decimal{botsB: decimal.RequireFromString("0.01")},
		tokens: map[common.Address][]TokenBalance{botsB: healthyTokens()},
		fail:   map[common.Address]error{botsA: dx.ErrRead},
	}
	notifier := &fakeNotifier{}
	mon := New([]Group{
		{Name: "seller-bots", Account: botsA, Tokens: []string{"WETH"}},
		{Name: "buyer-bots", Account: botsB, Tokens: []string{"WETH", "RDN"}},
	}, reader, notifier, thresholds(), nil, zap.NewNop(), WithConcurrency(2))

	report, err := mon.Check(context.Background())
	if !errors.Is(err, dx.ErrRead) {
		t.Fatalf("expected ErrRead, got %v", err)
	}
	if report.OK {
		t.Fatalf("expected report not OK")
	}
	if report.Groups[0].Error == "" || report.Groups[1].Error != "" {
		t.Fatalf("expected only the first group to fail, got %+v", report.Groups)
	}
	if notifier.count(throttle.EtherBalanceLow) != 1 || notifier.attempts[0].class.Scope != "buyer-bots" {
		t.Fatalf("expected healthy group to still alert, got %+v", notifier.attempts)
	}
	if mon.Info().LastError == nil {
		t.Fatalf("expected last error to be set")
	}
}

func TestCheckTransportFailureKeepsReportOK(t *testing.T) {
	reader := &fakeReader{
		ether: map[common.Address]decimal.Decimal{botsA: decimal.Zero},
	}
	notifier := &fakeNotifier{err: alerts.ErrTransport}
	mon := New([]Group{{Name: "liquidity-bots", Account: botsA}}, reader, notifier, thresholds(), nil, zap.NewNop())
	report, err := mon.Check(context.Background())
	if err != nil || !report.OK {
		t.Fatalf("expected ok report despite alert failure, got %+v %v", report, err)
	}
	if mon.Info().LastError != nil {
		t.Fatalf("expected no last error")
	}
}

func TestCheckThrottlesRepeatedAlerts(t *testing.T) {
	reader := &fakeReader{
		ether: map[common.Address]decimal.Decimal{botsA: decimal.Zero},
	}
	sink := &countingSink{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	th := throttle.New(4*time.Hour, throttle.Immediate, sink, nil, zap.NewNop(), throttle.WithClock(clock))
	mon := New([]Group{{Name: "liquidity-bots", Account: botsA}}, reader, th, thresholds(), nil, zap.NewNop())

	for i := 0; i < 3; i++ {
		if _, err := mon.Check(context.Background()); err != nil {
			t.Fatalf("check: %v", err)
		}
		now = now.Add(time.Hour)
	}
	if sink.sent != 1 {
		t.Fatalf("expected one delivered alert within the cooldown, got %d", sink.sent)
	}
	now = now.Add(2 * time.Hour)
	if _, err := mon.Check(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	if sink.sent != 2 {
		t.Fatalf("expected a second alert after the cooldown, got %d", sink.sent)
	}
}

type countingSink struct {
	sent int
}

func (c *countingSink) Send(context.Context, alerts.Message) error {
	c.sent++
	return nil
}

func TestChainReaderValuesTokens(t *testing.T) {
	chain := fakeChain{
		ether: decimal.NewFromInt(2),
		tokens: map[string]decimal.Decimal{
			"RDN": decimal.NewFromInt(1250),
			"OMG": decimal.NewFromInt(5),
		},
	}
	reader := NewChainReader(chain, dx.NewPriceTable(map[string]float64{"RDN": 4, "OMG": 2}))
	balances, err := reader.TokenBalances(context.Background(), botsA, []string{"RDN", "OMG"})
	if err != nil {
		t.Fatalf("token balances: %v", err)
	}
	if len(balances) != 2 || !balances[0].AmountUSD.Equal(decimal.NewFromInt(5000)) || !balances[1].AmountUSD.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected balances %+v", balances)
	}
	if _, err := reader.TokenBalances(context.Background(), botsA, []string{"GNO"}); !errors.Is(err, dx.ErrRead) {
		t.Fatalf("expected ErrRead for unknown token, got %v", err)
	}
	if _, err := reader.TokenBalances(context.Background(), botsA, []string{"RDN", "MKR"}); err == nil {
		t.Fatalf("expected error for token without a price")
	}
}

type fakeChain struct {
	ether  decimal.Decimal
	tokens map[string]decimal.Decimal
}

func (f fakeChain) EtherBalance(context.Context, common.Address) (decimal.Decimal, error) {
	return f.ether, nil
}

func (f fakeChain) TokenBalance(_ context.Context, _ common.Address, symbol string) (decimal.Decimal, error) {
	if symbol == "MKR" {
		return decimal.NewFromInt(1), nil
	}
	v, ok := f.tokens[symbol]
	if !ok {
		return decimal.Zero, dx.ErrRead
	}
	return v, nil
}

func TestJobRunsImmediately(t *testing.T) {
	job := Job(New(nil, &fakeReader{}, &fakeNotifier{}, thresholds(), nil, zap.NewNop()), time.Minute, zap.NewNop())
	if !job.Immediate || job.Topic != "" {
		t.Fatalf("expected immediate periodic job without topic")
	}
	scopes := job.Scopes()
	if len(scopes) != 1 || job.Key(scopes[0]) != "BALANCE-CHECK" {
		t.Fatalf("unexpected scopes %v", scopes)
	}
}
