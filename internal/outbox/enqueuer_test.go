package outbox

import (
	"context"
	"testing"

	"github.com/inboundhook/hookservice/internal/contracts"
	"github.com/inboundhook/hookservice/pkg/canonical"
)

func TestEnqueuerInsertsEntryFromContractAndEvent(t *testing.T) {
	store := newFakeStore()
	q := NewEnqueuer(store)

	ev, err := canonical.NewEvent("github", "push", nil, []byte(`{}`), "")
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	c := contracts.Contract{
		ID:     "c1",
		Target: contracts.Target{URL: "https://example.com/hook", SigningSecret: "s3cr3t", TimeoutMS: 2500},
	}

	if err := q.Enqueue(context.Background(), c, ev); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(store.entries))
	}
	for _, e := range store.entries {
		if e.ContractID != "c1" || e.URL != "https://example.com/hook" || e.TimeoutMS != 2500 {
			t.Fatalf("unexpected entry: %+v", e)
		}
	}
}

func TestEnqueuerDefaultsTimeoutWhenUnset(t *testing.T) {
	store := newFakeStore()
	q := NewEnqueuer(store)
	ev, _ := canonical.NewEvent("github", "push", nil, []byte(`{}`), "")
	c := contracts.Contract{ID: "c2", Target: contracts.Target{URL: "https://example.com/hook"}}

	if err := q.Enqueue(context.Background(), c, ev); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, e := range store.entries {
		if e.TimeoutMS != int(DefaultClaimTimeout.Milliseconds()) {
			t.Fatalf("expected default timeout, got %d", e.TimeoutMS)
		}
	}
}
