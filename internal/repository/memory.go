package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryLeaseStore is a process-local lease store used when redis is absent.
type MemoryLeaseStore struct {
	mu     sync.Mutex
	leases map[string]time.Time
	now    func() time.Time
}

func NewMemoryLeaseStore() *MemoryLeaseStore {
	return &MemoryLeaseStore{
		leases: make(map[string]time.Time),
		now:    time.Now,
	}
}

// NewMemoryLeaseStoreWithClock reads expiry times from now instead of the
// wall clock.
func NewMemoryLeaseStoreWithClock(now func() time.Time) *MemoryLeaseStore {
	store := NewMemoryLeaseStore()
	store.now = now
	return store
}

func (r *MemoryLeaseStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if expiresAt, ok := r.leases[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	for k, expiresAt := range r.leases {
		if !now.Before(expiresAt) {
			delete(r.leases, k)
		}
	}
	r.leases[key] = now.Add(ttl)
	return true, nil
}

func (r *MemoryLeaseStore) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	delete(r.leases, key)
	r.mu.Unlock()
	return nil
}
