package contracts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/inboundhook/hookservice/pkg/canonical"
)

// Store is the durable persistence contract for "persisted" origin
// contracts. Implementations (see store_sql.go) back this with
// database/sql.
type Store interface {
	Put(ctx context.Context, c Contract) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Contract, error)
}

// Registry is the in-memory Contract Registry. Programmatic contracts live
// only here; persisted contracts are also written through to an optional
// Store.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]Contract
	store Store
	now   func() time.Time
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		byID:  make(map[string]Contract),
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Register is idempotent on contract id: re-registering replaces the
// previous definition. Programmatic contracts are stored only in memory;
// persisted contracts are written through to the durable store.
func (r *Registry) Register(ctx context.Context, c Contract) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Origin == OriginPersisted && r.store != nil {
		if err := r.store.Put(ctx, c); err != nil {
			return fmt.Errorf("contracts: persist %q: %w", c.ID, err)
		}
	}
	r.mu.Lock()
	r.byID[c.ID] = c
	r.mu.Unlock()
	return nil
}

// Remove deletes a contract by id, from memory and, if persisted, from the
// durable store.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	c, ok := r.byID[id]
	delete(r.byID, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if c.Origin == OriginPersisted && r.store != nil {
		return r.store.Delete(ctx, id)
	}
	return nil
}

// List returns all registered contracts, sorted by id for determinism.
func (r *Registry) List() []Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Contract, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SweepExpired removes every persisted contract whose TTL has passed as of
// now, intended to be called periodically from a background ticker.
func (r *Registry) SweepExpired(ctx context.Context, now time.Time) int {
	r.mu.Lock()
	var expired []string
	for id, c := range r.byID {
		if c.Expired(now) {
			expired = append(expired, id)
			delete(r.byID, id)
		}
	}
	r.mu.Unlock()
	for _, id := range expired {
		if r.store != nil {
			_ = r.store.Delete(ctx, id)
		}
	}
	return len(expired)
}

// Match returns every contract whose criteria all match event. Matching is
// pure; there is no "best match" — every match is an independent dispatch
// outcome.
func (r *Registry) Match(event *canonical.Event) []Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Contract
	for _, c := range r.byID {
		if c.Matches(event) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadStore hydrates the in-memory index from the durable store at
// startup, so previously-persisted contracts take effect again.
func (r *Registry) LoadStore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	cs, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("contracts: load store: %w", err)
	}
	r.mu.Lock()
	for _, c := range cs {
		r.byID[c.ID] = c
	}
	r.mu.Unlock()
	return nil
}
