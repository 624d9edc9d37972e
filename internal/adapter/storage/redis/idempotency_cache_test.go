package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyCache_SetAndGet(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	key := uuid.New()
	txID := uuid.New()

	// Get before set => not found
	_, found, err := cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.False(t, found)

	// Set
	err = cache.Set(ctx, key, txID, 24*time.Hour)
	require.NoError(t, err)

	// Get after set
	got, found, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, txID, got)
}

func TestIdempotencyCache_TTLExpiry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	key := uuid.New()

	err := cache.Set(ctx, key, uuid.New(), 1*time.Second)
	require.NoError(t, err)

	// Fast-forward time in miniredis
	s.FastForward(2 * time.Second)

	_, found, err := cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.False(t, found, "expired key should not be found")
}

func TestIdempotencyCache_KeyIsolation(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	keyA, keyB := uuid.New(), uuid.New()
	txA, txB := uuid.New(), uuid.New()

	require.NoError(t, cache.Set(ctx, keyA, txA, time.Hour))
	require.NoError(t, cache.Set(ctx, keyB, txB, time.Hour))

	gotA, _, err := cache.Get(ctx, keyA)
	require.NoError(t, err)
	gotB, _, err := cache.Get(ctx, keyB)
	require.NoError(t, err)

	assert.Equal(t, txA, gotA)
	assert.Equal(t, txB, gotB)
}
