// Package handlerexec runs named in-process handlers with a fixed retry
// ladder, idempotency-key dedup, and cooperative shutdown cancellation.
package handlerexec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/inboundhook/hookservice/internal/obslog"
	"github.com/inboundhook/hookservice/pkg/apperrors"
	"github.com/inboundhook/hookservice/pkg/canonical"
	"github.com/inboundhook/hookservice/pkg/idempotency"
)

// Func is a registered handler. It must tolerate retries: it may be
// invoked up to three times for the same event.
type Func func(ctx context.Context, event *canonical.Event) error

var (
	ErrUnknownHandler    = errors.New("handlerexec: unknown handler")
	ErrAlreadyRegistered = errors.New("handlerexec: already registered")
)

// ladder is the fixed three-attempt retry schedule spec.md §4.6 requires:
// attempt 1 immediate, attempt 2 at +10s, attempt 3 at +30s.
var ladder = []time.Duration{0, 10 * time.Second, 30 * time.Second}

type Options struct {
	// GraceWindow bounds how long an in-flight handler is given to finish
	// after Shutdown is called before being abandoned. Default 5s.
	GraceWindow time.Duration
	Logger      *obslog.Logger
	Dedup       *idempotency.Store
}

// Executor owns a handler registry and schedules fire-and-forget
// invocations, each walking its own retry ladder independently.
type Executor struct {
	mu  sync.RWMutex
	fns map[string]Func

	dedup  *idempotency.Store
	logger *obslog.Logger
	grace  time.Duration

	wg        sync.WaitGroup
	closing   chan struct{}
	closeOnce sync.Once
}

func NewExecutor(opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = obslog.Nop
	}
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = 5 * time.Second
	}
	if opts.Dedup == nil {
		opts.Dedup = idempotency.NewStore(24 * time.Hour)
	}
	return &Executor{
		fns:     make(map[string]Func),
		dedup:   opts.Dedup,
		logger:  opts.Logger,
		grace:   opts.GraceWindow,
		closing: make(chan struct{}),
	}
}

func (e *Executor) Register(name string, fn Func) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("handlerexec: handler name required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.fns[name]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
	}
	e.fns[name] = fn
	return nil
}

// Invoke schedules a fire-and-forget execution of the named handler against
// event. It returns immediately; the handler runs on its own goroutine and
// owns its own retry ladder. If the executor is shutting down, Invoke is a
// no-op.
func (e *Executor) Invoke(ctx context.Context, name string, event *canonical.Event) {
	e.mu.RLock()
	fn, ok := e.fns[name]
	e.mu.RUnlock()
	if !ok {
		e.logger.Warn("unknown handler", map[string]any{"handler": name})
		return
	}

	if event != nil && event.IdempotencyKey != "" {
		key, err := idempotency.BuildKey(name, event.IdempotencyKey)
		if err == nil && e.dedup.SeenOrMark(key) {
			e.logger.Debug("duplicate suppressed", map[string]any{"handler": name, "event_id": event.EventID})
			return
		}
	}

	select {
	case <-e.closing:
		return
	default:
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runLadder(name, fn, event)
	}()
}

func (e *Executor) runLadder(name string, fn Func, event *canonical.Event) {
	var lastErr error
	for attempt, delay := range ladder {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-e.closing:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			lastErr = fn(ctx, event)
		}()
		select {
		case <-done:
		case <-e.closing:
			// cooperative shutdown: cancel the handler's context, then give
			// it its grace window.
			cancel()
			select {
			case <-done:
			case <-time.After(e.grace):
				lastErr = fmt.Errorf("handlerexec: abandoned after grace window")
			}
		}
		cancel()

		if lastErr == nil {
			return
		}
		e.logger.Debug("handler attempt failed", map[string]any{
			"handler": name, "attempt": attempt + 1, "err": lastErr.Error(),
		})
	}
	e.logger.Warn("handler failed after retry ladder", map[string]any{
		"handler": name, "code": string(apperrors.HandlerFailed), "err": errString(lastErr),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Shutdown signals in-flight handlers to wind down and waits up to the
// grace window (plus any handler's own cooperative exit) for them to
// finish, or until ctx is done.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.closeOnce.Do(func() { close(e.closing) })
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
