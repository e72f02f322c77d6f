package throttle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"dx-bots/internal/alerts"
	"dx-bots/internal/metrics"

	"go.uber.org/zap"
)

type Kind string

const (
	EtherBalanceLow Kind = "ether_balance_low"
	TokenBalanceLow Kind = "token_balance_low"
)

// AlertClass is the unit of independent cooldown.
type AlertClass struct {
	Kind  Kind
	Scope string
}

func (c AlertClass) String() string {
	return string(c.Kind) + ":" + c.Scope
}

type FirstAlertPolicy string

const (
	// Immediate makes the first alert of a class eligible right away.
	Immediate FirstAlertPolicy = "immediate"
	// AfterCooldown treats every class as sent at construction time.
	AfterCooldown FirstAlertPolicy = "after_cooldown"
)

type Result struct {
	Sent        bool
	NextAllowed time.Time
}

type Entry struct {
	Class       string    `json:"class"`
	LastSent    time.Time `json:"lastSent"`
	NextAllowed time.Time `json:"nextAllowed"`
}

type Option func(*Throttle)

func WithClock(now func() time.Time) Option {
	return func(t *Throttle) {
		if now != nil {
			t.now = now
		}
	}
}

type Throttle struct {
	cooldown time.Duration
	policy   FirstAlertPolicy
	notifier alerts.Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
	started  time.Time

	mu       sync.Mutex
	sending  map[AlertClass]*sync.Mutex
	lastSent map[AlertClass]time.Time
}

func New(cooldown time.Duration, policy FirstAlertPolicy, notifier alerts.Notifier, m *metrics.Metrics, log *zap.Logger, opts ...Option) *Throttle {
	if notifier == nil {
		notifier = alerts.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if policy == "" {
		policy = Immediate
	}
	t := &Throttle{
		cooldown: cooldown,
		policy:   policy,
		notifier: notifier,
		metrics:  metrics.OrNoop(m),
		log:      log,
		now:      time.Now,
		sending:  make(map[AlertClass]*sync.Mutex),
		lastSent: make(map[AlertClass]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.started = t.now()
	return t
}

// TryNotify sends msg unless class is still cooling down. The cooldown clock
// only advances on a successful send. Concurrent calls for one class are
// serialized across the send; different classes do not wait on each other.
func (t *Throttle) TryNotify(ctx context.Context, class AlertClass, msg alerts.Message) (Result, error) {
	gate := t.gate(class)
	gate.Lock()
	defer gate.Unlock()

	now := t.now()
	if next, ok := t.nextAllowed(class); ok && now.Before(next) {
		t.metrics.AlertsSuppressed.Inc()
		t.log.Debug("alert suppressed",
			zap.String("class", class.String()),
			zap.Time("next_allowed", next),
		)
		return Result{NextAllowed: next}, nil
	}

	if err := t.notifier.Send(ctx, msg); err != nil {
		t.metrics.AlertsFailed.Inc()
		if !errors.Is(err, alerts.ErrTransport) {
			err = fmt.Errorf("%w: %w", alerts.ErrTransport, err)
		}
		return Result{NextAllowed: now}, err
	}

	t.mu.Lock()
	t.lastSent[class] = now
	t.mu.Unlock()
	t.metrics.AlertsSent.Inc()
	t.log.Info("alert sent", zap.String("class", class.String()), zap.String("title", msg.Title))
	return Result{Sent: true, NextAllowed: now.Add(t.cooldown)}, nil
}

// LastSent returns the last successful dispatch time for class.
func (t *Throttle) LastSent(class AlertClass) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.lastSent[class]
	return ts, ok
}

// Snapshot returns the classes that have been sent, ordered by class.
func (t *Throttle) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.lastSent))
	for class, ts := range t.lastSent {
		out = append(out, Entry{
			Class:       class.String(),
			LastSent:    ts,
			NextAllowed: ts.Add(t.cooldown),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}

func (t *Throttle) nextAllowed(class AlertClass) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts, ok := t.lastSent[class]; ok {
		return ts.Add(t.cooldown), true
	}
	if t.policy == AfterCooldown {
		return t.started.Add(t.cooldown), true
	}
	return time.Time{}, false
}

func (t *Throttle) gate(class AlertClass) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.sending[class]
	if !ok {
		g = &sync.Mutex{}
		t.sending[class] = g
	}
	return g
}
