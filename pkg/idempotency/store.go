package idempotency

import (
	"sync"
	"time"
)

// Store tracks which dedup keys have already been seen within a retention
// window, so the Handler Executor never invokes the same handler twice
// concurrently (or repeatedly) for the same idempotency_key.
type Store struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[string]time.Time // key -> expires_at
}

// NewStore creates a dedup store; entries are evicted ttl after they are
// marked seen. A ttl of zero disables eviction (entries are kept forever,
// useful for tests).
func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
		m:   make(map[string]time.Time),
	}
}

// SeenOrMark reports whether key has already been marked within the
// retention window. If not, it atomically marks it and returns false.
func (s *Store) SeenOrMark(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)

	if exp, ok := s.m[key]; ok && now.Before(exp) {
		return true
	}
	expires := now.Add(s.ttl)
	if s.ttl <= 0 {
		expires = now.Add(100 * 365 * 24 * time.Hour)
	}
	s.m[key] = expires
	return false
}

func (s *Store) evictLocked(now time.Time) {
	for k, exp := range s.m {
		if now.After(exp) {
			delete(s.m, k)
		}
	}
}
