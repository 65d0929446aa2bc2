package handlerexec

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inboundhook/hookservice/pkg/canonical"
)

func newEvent(t *testing.T, idemKey string) *canonical.Event {
	t.Helper()
	ev, err := canonical.NewEvent("github", "push", nil, []byte(`{}`), idemKey)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return ev
}

func TestInvokeSucceedsOnFirstAttempt(t *testing.T) {
	e := NewExecutor(Options{})
	var calls int32
	var wg sync.WaitGroup
	wg.Add(1)
	_ = e.Register("ok", func(_ context.Context, _ *canonical.Event) error {
		defer wg.Done()
		atomic.AddInt32(&calls, 1)
		return nil
	})
	e.Invoke(context.Background(), "ok", newEvent(t, ""))
	wg.Wait()
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestInvokeRetriesUpToThreeTimes(t *testing.T) {
	ladderBackup := ladder
	ladder = []time.Duration{0, 0, 0}
	defer func() { ladder = ladderBackup }()

	e := NewExecutor(Options{})
	var calls int32
	done := make(chan struct{})
	_ = e.Register("fails", func(_ context.Context, _ *canonical.Event) error {
		n := atomic.AddInt32(&calls, 1)
		if n == 3 {
			close(done)
		}
		return errors.New("always fails")
	})
	e.Invoke(context.Background(), "fails", newEvent(t, ""))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for three attempts")
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestInvokeDedupesSameIdempotencyKey(t *testing.T) {
	e := NewExecutor(Options{})
	var calls int32
	var wg sync.WaitGroup
	wg.Add(1)
	_ = e.Register("dedup", func(_ context.Context, _ *canonical.Event) error {
		atomic.AddInt32(&calls, 1)
		wg.Done()
		return nil
	})
	ev := newEvent(t, "same-key")
	e.Invoke(context.Background(), "dedup", ev)
	e.Invoke(context.Background(), "dedup", ev)
	wg.Wait()
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected dedup to suppress second invocation, got %d calls", calls)
	}
}

func TestShutdownWaitsForInFlightHandlers(t *testing.T) {
	e := NewExecutor(Options{GraceWindow: time.Second})
	started := make(chan struct{})
	_ = e.Register("slow", func(_ context.Context, _ *canonical.Event) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	e.Invoke(context.Background(), "slow", newEvent(t, ""))
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
