package outbox

import (
	"context"
	"time"

	"github.com/inboundhook/hookservice/internal/obslog"
)

// WorkerOptions configures the polling loop.
type WorkerOptions struct {
	PollInterval time.Duration
	ReapInterval time.Duration
	StaleAfter   time.Duration
	MaxAttempts  int
	Logger       *obslog.Logger
}

func (o *WorkerOptions) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = 30 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
}

// Worker repeatedly claims due entries and hands them to a Deliverer,
// transitioning each through the outbox state machine based on the
// delivery outcome.
type Worker struct {
	store     Store
	deliverer *Deliverer
	opts      WorkerOptions
	logger    *obslog.Logger
	stop      chan struct{}
	done      chan struct{}
}

func NewWorker(store Store, deliverer *Deliverer, opts WorkerOptions) *Worker {
	opts.setDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = obslog.Nop
	}
	return &Worker{
		store:     store,
		deliverer: deliverer,
		opts:      opts,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run blocks, polling for due entries and reaping stale claims, until ctx
// is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	if err := w.reapOnce(ctx); err != nil {
		w.logger.Warn("outbox: startup reap failed", map[string]any{"error": err.Error()})
	}

	pollTicker := time.NewTicker(w.opts.PollInterval)
	defer pollTicker.Stop()
	reapTicker := time.NewTicker(w.opts.ReapInterval)
	defer reapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-reapTicker.C:
			if err := w.reapOnce(ctx); err != nil {
				w.logger.Warn("outbox: reap failed", map[string]any{"error": err.Error()})
			}
		case <-pollTicker.C:
			for w.claimAndDeliverOnce(ctx) {
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) reapOnce(ctx context.Context) error {
	n, err := w.store.ReapStale(ctx, time.Now().UTC().Add(-w.opts.StaleAfter))
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.Info("outbox: reaped stale in_flight entries", map[string]any{"count": n})
	}
	return nil
}

// claimAndDeliverOnce claims and processes a single due entry, returning
// true if an entry was claimed (so the caller can drain the backlog
// before waiting for the next tick).
func (w *Worker) claimAndDeliverOnce(ctx context.Context) bool {
	e, err := w.store.ClaimNext(ctx, time.Now().UTC())
	if err != nil {
		w.logger.Warn("outbox: claim failed", map[string]any{"error": err.Error()})
		return false
	}
	if e == nil {
		return false
	}

	outcome := w.deliverer.Deliver(ctx, *e)
	switch outcome.kind {
	case outcomeSucceeded:
		if err := w.store.MarkSucceeded(ctx, e.ID); err != nil {
			w.logger.Warn("outbox: mark succeeded failed", map[string]any{"id": e.ID, "error": err.Error()})
		}
	case outcomeTerminal:
		if err := w.store.MarkFailed(ctx, e.ID, errString(outcome.err)); err != nil {
			w.logger.Warn("outbox: mark failed failed", map[string]any{"id": e.ID, "error": err.Error()})
		}
	case outcomeRetryable:
		if e.Attempts >= w.opts.MaxAttempts {
			if err := w.store.MarkDeadLettered(ctx, e.ID, errString(outcome.err)); err != nil {
				w.logger.Warn("outbox: mark dead_lettered failed", map[string]any{"id": e.ID, "error": err.Error()})
			}
			break
		}
		delay := deterministicJitter(BackoffFor(e.Attempts), 20, e.ID, e.Attempts)
		next := time.Now().UTC().Add(delay)
		if err := w.store.MarkRetry(ctx, e.ID, next, errString(outcome.err)); err != nil {
			w.logger.Warn("outbox: mark retry failed", map[string]any{"id": e.ID, "error": err.Error()})
		}
	}
	return true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
