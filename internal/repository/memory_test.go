package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLeaseStore(t *testing.T) {
	store := NewMemoryLeaseStore()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "job", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = store.Acquire(ctx, "job", time.Hour)
	assert.False(t, ok)

	now = now.Add(time.Hour)
	ok, _ = store.Acquire(ctx, "job", time.Hour)
	assert.True(t, ok, "lease must expire after its ttl")

	require.NoError(t, store.Release(ctx, "job"))
	ok, _ = store.Acquire(ctx, "job", time.Hour)
	assert.True(t, ok)
}
