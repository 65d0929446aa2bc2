package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/inboundhook/hookservice/internal/contracts"
	"github.com/inboundhook/hookservice/pkg/canonical"
)

// Enqueuer adapts a Store into the narrow interface internal/dispatch
// needs, translating a matched contract + event into a durable Entry.
type Enqueuer struct {
	store Store
}

func NewEnqueuer(store Store) *Enqueuer {
	return &Enqueuer{store: store}
}

// Enqueue persists one outbox row for a URL-target contract match. The
// entry starts pending and due immediately; the worker picks it up on its
// next poll.
func (q *Enqueuer) Enqueue(ctx context.Context, contract contracts.Contract, event *canonical.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("outbox: marshal event: %w", err)
	}
	timeoutMS := contract.Target.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = int(DefaultClaimTimeout.Milliseconds())
	}
	entry := Entry{
		ID:               uuid.NewString(),
		ContractID:       contract.ID,
		EventID:          event.EventID,
		PayloadJSON:      payload,
		SigningSecretRef: contract.Target.SigningSecret,
		URL:              contract.Target.URL,
		TimeoutMS:        timeoutMS,
	}
	return q.store.Insert(ctx, entry)
}
