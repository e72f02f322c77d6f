package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrPanic wraps a value recovered from a panicking action.
var ErrPanic = errors.New("action panicked")

// Outcome is what a caller of Run observes. Joined is set when the caller
// found the key already in flight and did not start the work itself.
type Outcome[T any] struct {
	Value  T
	Err    error
	Joined bool
}

type call[T any] struct {
	done    chan struct{}
	val     T
	err     error
	waiters int
}

// ActionLock runs at most one invocation of work per key at a time. Callers
// that arrive while a key is in flight share the running invocation's result.
type ActionLock[T any] struct {
	mu    sync.Mutex
	calls map[string]*call[T]
}

func New[T any]() *ActionLock[T] {
	return &ActionLock[T]{calls: make(map[string]*call[T])}
}

// Run executes work for key unless an execution is already in flight, in
// which case it waits for that one. Work runs on its own goroutine with a
// context that is not cancelled with ctx; if ctx ends first the caller gets
// ctx.Err() and the work keeps going.
func (l *ActionLock[T]) Run(ctx context.Context, key string, work func(context.Context) (T, error)) Outcome[T] {
	l.mu.Lock()
	c, joined := l.calls[key]
	if !joined {
		c = &call[T]{done: make(chan struct{})}
		l.calls[key] = c
		go l.do(context.WithoutCancel(ctx), key, c, work)
	}
	c.waiters++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		c.waiters--
		l.mu.Unlock()
	}()

	select {
	case <-c.done:
		return Outcome[T]{Value: c.val, Err: c.err, Joined: joined}
	case <-ctx.Done():
		return Outcome[T]{Err: ctx.Err(), Joined: joined}
	}
}

func (l *ActionLock[T]) do(ctx context.Context, key string, c *call[T], work func(context.Context) (T, error)) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			c.val = zero
			c.err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		// The entry must be gone before waiters wake so that a caller reacting
		// to the outcome can start fresh work for the same key.
		l.mu.Lock()
		delete(l.calls, key)
		l.mu.Unlock()
		close(c.done)
	}()
	c.val, c.err = work(ctx)
}

// InFlight returns the keys currently executing, sorted.
func (l *ActionLock[T]) InFlight() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.calls))
	for k := range l.calls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Waiters reports how many callers are waiting on key, including the one
// that started it.
func (l *ActionLock[T]) Waiters(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.calls[key]; ok {
		return c.waiters
	}
	return 0
}
