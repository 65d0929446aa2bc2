// Package dispatch is the hub: given an event, it finds matching contracts
// and fans out to the Handler Executor or the Outbox, without performing
// any network I/O itself.
package dispatch

import (
	"context"

	"github.com/inboundhook/hookservice/internal/contracts"
	"github.com/inboundhook/hookservice/internal/obslog"
	"github.com/inboundhook/hookservice/pkg/canonical"
)

// HandlerExecutor is the narrow interface needed from the handler
// executor component.
type HandlerExecutor interface {
	// Invoke schedules fn for handler target name against event. The
	// executor owns its own retry ladder; Invoke returns once scheduling
	// has happened, not once the handler has finished.
	Invoke(ctx context.Context, name string, event *canonical.Event)
}

// Outbox is the narrow interface needed from the outbox component.
type Outbox interface {
	Enqueue(ctx context.Context, contract contracts.Contract, event *canonical.Event) error
}

// Matcher is the narrow interface needed from the contract registry.
type Matcher interface {
	Match(event *canonical.Event) []contracts.Contract
}

type Dispatcher struct {
	matcher  Matcher
	executor HandlerExecutor
	outbox   Outbox
	logger   *obslog.Logger
}

func NewDispatcher(matcher Matcher, executor HandlerExecutor, outbox Outbox, logger *obslog.Logger) *Dispatcher {
	if logger == nil {
		logger = obslog.Nop
	}
	return &Dispatcher{matcher: matcher, executor: executor, outbox: outbox, logger: logger}
}

// DispatchResult summarizes what a Dispatch call did, for callers that want
// to observe outcomes (tests, operational tooling); it is not part of the
// HTTP response contract.
type DispatchResult struct {
	MatchedContracts int
	HandlerMatches   int
	OutboxMatches    int
	OutboxErrors     int
}

// Dispatch matches event against the contract registry and fans out
// sequentially, in contract-iteration order, to handler targets
// (fire-and-forget) and URL targets (persisted outbox entry). Zero matches
// is not an error.
func (d *Dispatcher) Dispatch(ctx context.Context, event *canonical.Event) error {
	_, err := d.DispatchWithResult(ctx, event)
	return err
}

func (d *Dispatcher) DispatchWithResult(ctx context.Context, event *canonical.Event) (DispatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var res DispatchResult
	if event == nil {
		return res, nil
	}

	matches := d.matcher.Match(event)
	res.MatchedContracts = len(matches)

	if len(matches) == 0 {
		d.logger.Debug("no matching contract", map[string]any{
			"event_id": event.EventID, "source": event.Source, "type": event.Type,
		})
		return res, nil
	}

	for _, c := range matches {
		switch {
		case c.Target.IsHandler():
			res.HandlerMatches++
			if d.executor != nil {
				d.executor.Invoke(ctx, c.Target.Handler, event)
			}
		case c.Target.IsURL():
			res.OutboxMatches++
			if d.outbox != nil {
				if err := d.outbox.Enqueue(ctx, c, event); err != nil {
					res.OutboxErrors++
					d.logger.Warn("outbox enqueue failed", map[string]any{
						"event_id": event.EventID, "contract_id": c.ID, "err": err.Error(),
					})
				}
			}
		}
	}
	return res, nil
}
