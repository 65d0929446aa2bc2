package outbox

import (
	"context"
	"time"
)

// Store is the durable persistence contract for Outbox Entries. The
// atomic claim operation is the crux: it must return at most one winner
// for a given pending row even under concurrent callers.
type Store interface {
	Insert(ctx context.Context, e Entry) error

	// ClaimNext atomically selects the oldest pending-and-due row and
	// transitions it to in_flight, incrementing attempts. Returns
	// (nil, nil) when nothing is due.
	ClaimNext(ctx context.Context, now time.Time) (*Entry, error)

	MarkSucceeded(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id string, lastErr string) error
	MarkDeadLettered(ctx context.Context, id string, lastErr string) error

	// ReapStale returns any in_flight row whose claim is older than
	// olderThan back to pending, for crash recovery on startup.
	ReapStale(ctx context.Context, olderThan time.Time) (int, error)
}
