package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerowrap.Logger {
	return zerowrap.Default()
}

func TestMemoryStore_Allow_ExceedsLimit(t *testing.T) {
	store := NewMemoryStore(1, 1, 0, testLogger())
	ctx := context.Background()

	assert.True(t, store.Allow(ctx, "sub:ci"), "first request should be allowed")
	assert.False(t, store.Allow(ctx, "sub:ci"), "second request should be rate limited")
}

func TestMemoryStore_Allow_BurstRefill(t *testing.T) {
	store := NewMemoryStore(10, 5, 0, testLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.True(t, store.Allow(ctx, "global"), "burst request %d should be allowed", i+1)
	}
	assert.False(t, store.Allow(ctx, "global"), "request exceeding burst should be rate limited")

	time.Sleep(200 * time.Millisecond)

	assert.True(t, store.Allow(ctx, "global"), "request after waiting should be allowed")
}

func TestMemoryStore_Allow_IndependentKeys(t *testing.T) {
	store := NewMemoryStore(1, 1, 0, testLogger())
	ctx := context.Background()

	assert.True(t, store.Allow(ctx, "ip:192.168.1.1"))
	assert.False(t, store.Allow(ctx, "ip:192.168.1.1"))
	assert.True(t, store.Allow(ctx, "ip:192.168.1.2"))
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStore_AllowN(t *testing.T) {
	store := NewMemoryStore(10, 10, 0, testLogger())
	ctx := context.Background()

	assert.False(t, store.AllowN(ctx, "upload", 11), "AllowN above burst should fail")
	assert.True(t, store.AllowN(ctx, "upload", 5))
	assert.True(t, store.AllowN(ctx, "upload", 5))
	assert.False(t, store.AllowN(ctx, "upload", 1))
}

func TestMemoryStore_EvictsIdleLimiters(t *testing.T) {
	store := NewMemoryStore(1, 1, 50*time.Millisecond, testLogger())
	ctx := context.Background()

	assert.True(t, store.Allow(ctx, "sub:ci"))
	assert.False(t, store.Allow(ctx, "sub:ci"))

	time.Sleep(150 * time.Millisecond)

	// The expired limiter is replaced by a fresh one with a full bucket.
	assert.True(t, store.Allow(ctx, "sub:ci"))
}

func TestMemoryStore_Allow_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(1000, 100, 0, testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan bool, 200)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				results <- store.Allow(ctx, "concurrent")
			}
		}()
	}
	wg.Wait()
	close(results)

	allowed := 0
	for result := range results {
		if result {
			allowed++
		}
	}

	require.GreaterOrEqual(t, allowed, 100, "at least burst number of requests should be allowed")
	require.LessOrEqual(t, allowed, 200)
}
