package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"chefbook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLeaseStore uses the primary store until it errors, then serves
// from the fallback and retries the primary once a minute.
type FailoverLeaseStore struct {
	primary   domain.LeaseStore
	fallback  domain.LeaseStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverLeaseStore(primary, fallback domain.LeaseStore, logger *zerolog.Logger) *FailoverLeaseStore {
	return &FailoverLeaseStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverLeaseStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary lease store failed, falling back to memory")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverLeaseStore) shouldRetryPrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > recoveryInterval {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverLeaseStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if !r.isDown.Load() {
		ok, err := r.primary.Acquire(ctx, key, ttl)
		if err == nil {
			return ok, nil
		}
		r.markDown(err)
	} else if r.shouldRetryPrimary() {
		ok, err := r.primary.Acquire(ctx, key, ttl)
		if err == nil {
			r.logger.Info().Msg("Primary lease store recovered")
			r.isDown.Store(false)
			return ok, nil
		}
	}

	return r.fallback.Acquire(ctx, key, ttl)
}

func (r *FailoverLeaseStore) Release(ctx context.Context, key string) error {
	// Release on both sides so a lease taken before a switch is not stranded.
	fbErr := r.fallback.Release(ctx, key)
	if r.isDown.Load() {
		return fbErr
	}
	if err := r.primary.Release(ctx, key); err != nil {
		r.markDown(err)
		return fbErr
	}
	return nil
}
