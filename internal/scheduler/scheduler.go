package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"dx-bots/internal/lock"
	"dx-bots/internal/metrics"

	"go.uber.org/zap"
)

// Subscriber is the event bus side the scheduler listens on.
type Subscriber interface {
	Subscribe(topic string, handler func(payload any)) (unsubscribe func())
}

// Job binds one guarded action to its triggers. S is the scope an action
// runs for (a market, the set of accounts) and R its result.
type Job[S, R any] struct {
	Name string

	// Interval enables the periodic path: every Interval each of Scopes()
	// is dispatched. Immediate also dispatches once on Start.
	Interval  time.Duration
	Scopes    func() []S
	Immediate bool

	// Topic enables the event path. Scope maps a payload to the scope it
	// concerns; false drops the event.
	Topic string
	Scope func(payload any) (S, bool)

	Key    func(S) string
	Run    func(ctx context.Context, scope S) (R, error)
	Report func(scope S, out lock.Outcome[R])
}

type Scheduler[S, R any] struct {
	job     Job[S, R]
	lock    *lock.ActionLock[R]
	bus     Subscriber
	metrics *metrics.Metrics
	log     *zap.Logger

	mu          sync.Mutex
	started     bool
	stopped     bool
	cancel      context.CancelFunc
	unsubscribe func()
	loopDone    chan struct{}

	inflight sync.WaitGroup
}

func New[S, R any](job Job[S, R], lk *lock.ActionLock[R], bus Subscriber, m *metrics.Metrics, log *zap.Logger) (*Scheduler[S, R], error) {
	if job.Key == nil || job.Run == nil {
		return nil, errors.New("scheduler job requires Key and Run")
	}
	if job.Interval <= 0 && job.Topic == "" && !job.Immediate {
		return nil, errors.New("scheduler job requires an interval, a topic or an immediate run")
	}
	if job.Interval > 0 || job.Immediate {
		if job.Scopes == nil {
			return nil, errors.New("scheduler job with a periodic trigger requires Scopes")
		}
	}
	if job.Topic != "" {
		if job.Scope == nil {
			return nil, errors.New("scheduler job with a topic requires Scope")
		}
		if bus == nil {
			return nil, errors.New("scheduler job with a topic requires an event bus")
		}
	}
	if lk == nil {
		lk = lock.New[R]()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler[S, R]{
		job:     job,
		lock:    lk,
		bus:     bus,
		metrics: metrics.OrNoop(m),
		log:     log.With(zap.String("job", job.Name)),
	}, nil
}

// Start subscribes to the topic and starts the ticker. It returns at once.
func (s *Scheduler[S, R]) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.job.Topic != "" {
		s.unsubscribe = s.bus.Subscribe(s.job.Topic, func(payload any) {
			scope, ok := s.job.Scope(payload)
			if !ok {
				s.log.Debug("event ignored", zap.String("topic", s.job.Topic))
				return
			}
			s.dispatch(loopCtx, scope)
		})
	}

	s.loopDone = make(chan struct{})
	go func() {
		defer close(s.loopDone)
		s.loop(loopCtx)
	}()
	s.log.Info("scheduler started",
		zap.Duration("interval", s.job.Interval),
		zap.String("topic", s.job.Topic),
	)
}

// Stop ends both trigger paths. Work already dispatched keeps running; use
// Wait to drain it.
func (s *Scheduler[S, R]) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancel()
	done := s.loopDone
	s.mu.Unlock()
	<-done
	s.log.Info("scheduler stopped")
}

// Wait blocks until dispatched work has settled or ctx ends.
func (s *Scheduler[S, R]) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger runs the job for scope under the action lock and reports the
// outcome. Both trigger paths end up here.
func (s *Scheduler[S, R]) Trigger(ctx context.Context, scope S) lock.Outcome[R] {
	key := s.job.Key(scope)
	out := s.lock.Run(ctx, key, func(ctx context.Context) (R, error) {
		return s.job.Run(ctx, scope)
	})
	if out.Joined {
		s.metrics.ActionsJoined.Inc()
	} else {
		s.metrics.ActionsStarted.Inc()
		if out.Err != nil {
			s.metrics.ActionsFailed.Inc()
		}
	}
	if s.job.Report != nil {
		s.job.Report(scope, out)
	} else if out.Err != nil && !out.Joined {
		s.log.Warn("action failed", zap.String("key", key), zap.Error(out.Err))
	}
	return out
}

// InFlight lists the action keys currently running.
func (s *Scheduler[S, R]) InFlight() []string {
	return s.lock.InFlight()
}

func (s *Scheduler[S, R]) dispatch(ctx context.Context, scope S) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.inflight.Done()
		s.Trigger(context.WithoutCancel(ctx), scope)
	}()
}

func (s *Scheduler[S, R]) loop(ctx context.Context) {
	if s.job.Immediate {
		s.tick(ctx)
	}
	if s.job.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler[S, R]) tick(ctx context.Context) {
	for _, scope := range s.job.Scopes() {
		if ctx.Err() != nil {
			return
		}
		s.dispatch(ctx, scope)
	}
}
