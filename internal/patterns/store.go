package patterns

import (
	"context"
	"sync"
	"time"

	"botgate/pkg/types"
)

// CacheRecord is the value stored in the shared cache tier.
type CacheRecord struct {
	Dataset   types.Dataset `json:"dataset"`
	FetchedAt time.Time     `json:"fetchedAt"`
}

// CacheStore is the distributed tier shared between gateway processes.
// Records are never deleted through this interface; freshness is always
// enforced by the reader against FetchedAt, any store-side expiry is an
// eviction optimisation.
type CacheStore interface {
	Match(ctx context.Context, key string) (CacheRecord, bool, error)
	Put(ctx context.Context, key string, rec CacheRecord) error
	Close() error
}

// MemoryStore is an in-process CacheStore. It gives single-process
// deployments the same refresh flow a Redis-backed fleet has.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]CacheRecord
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]CacheRecord)}
}

func (s *MemoryStore) Match(_ context.Context, key string) (CacheRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, rec CacheRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
