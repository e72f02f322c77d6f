package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitForWaiters(t *testing.T, l *ActionLock[int], key string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for l.Waiters(key) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d waiters on %q, got %d", n, key, l.Waiters(key))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunCollapsesConcurrentCalls(t *testing.T) {
	l := New[int]()
	release := make(chan struct{})
	var calls atomic.Int32
	work := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const n = 8
	outcomes := make([]Outcome[int], n)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		outcomes[0] = l.Run(context.Background(), "k", work)
	}()
	waitForWaiters(t, l, "k", 1)
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = l.Run(context.Background(), "k", work)
		}(i)
	}
	waitForWaiters(t, l, "k", n)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 execution, got %d", got)
	}
	joined := 0
	for i, o := range outcomes {
		if o.Err != nil || o.Value != 42 {
			t.Fatalf("outcome %d: unexpected %+v", i, o)
		}
		if o.Joined {
			joined++
		}
	}
	if joined != n-1 {
		t.Fatalf("expected %d joined outcomes, got %d", n-1, joined)
	}
	if outcomes[0].Joined {
		t.Fatalf("expected first caller to own the execution")
	}
	if len(l.InFlight()) != 0 {
		t.Fatalf("expected no in-flight keys, got %v", l.InFlight())
	}
}

func TestRunReleasesAfterError(t *testing.T) {
	l := New[int]()
	boom := errors.New("boom")
	var calls int
	out := l.Run(context.Background(), "k", func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(out.Err, boom) {
		t.Fatalf("expected boom, got %v", out.Err)
	}
	out = l.Run(context.Background(), "k", func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	if calls != 2 {
		t.Fatalf("expected second call to execute, got %d executions", calls)
	}
	if out.Err != nil || out.Value != 7 || out.Joined {
		t.Fatalf("unexpected second outcome %+v", out)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	l := New[int]()
	out := l.Run(context.Background(), "k", func(context.Context) (int, error) {
		panic("bad state")
	})
	if !errors.Is(out.Err, ErrPanic) {
		t.Fatalf("expected ErrPanic, got %v", out.Err)
	}
	if len(l.InFlight()) != 0 {
		t.Fatalf("expected key released after panic")
	}
	out = l.Run(context.Background(), "k", func(context.Context) (int, error) { return 1, nil })
	if out.Err != nil || out.Value != 1 {
		t.Fatalf("expected fresh execution after panic, got %+v", out)
	}
}

func TestRunWaiterCancelDoesNotCancelWork(t *testing.T) {
	l := New[int]()
	release := make(chan struct{})
	finished := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome[int], 1)
	go func() {
		done <- l.Run(ctx, "k", func(workCtx context.Context) (int, error) {
			<-release
			finished <- workCtx.Err()
			return 1, nil
		})
	}()
	waitForWaiters(t, l, "k", 1)
	cancel()
	out := <-done
	if !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled for waiter, got %v", out.Err)
	}
	if got := l.InFlight(); len(got) != 1 || got[0] != "k" {
		t.Fatalf("expected work still in flight, got %v", got)
	}
	close(release)
	if err := <-finished; err != nil {
		t.Fatalf("expected work context to stay live, got %v", err)
	}
}

func TestRunKeysAreIndependent(t *testing.T) {
	l := New[int]()
	release := make(chan struct{})
	go l.Run(context.Background(), "a", func(context.Context) (int, error) {
		<-release
		return 0, nil
	})
	waitForWaiters(t, l, "a", 1)
	out := l.Run(context.Background(), "b", func(context.Context) (int, error) { return 2, nil })
	if out.Joined || out.Value != 2 {
		t.Fatalf("expected independent execution for b, got %+v", out)
	}
	if got := l.InFlight(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected only a in flight, got %v", got)
	}
	close(release)
}
