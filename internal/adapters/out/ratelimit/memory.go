// Package ratelimit provides rate limiter implementations.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/bnema/toolshed/internal/boundaries/out"
)

// Ensure MemoryStore implements out.RateLimiter.
var _ out.RateLimiter = (*MemoryStore)(nil)

// DefaultIdleTTL is how long an unused per-key limiter is kept.
const DefaultIdleTTL = 10 * time.Minute

// MemoryStore is an in-memory token-bucket limiter. Each key gets its own
// limiter, evicted after it has been idle for the configured TTL.
type MemoryStore struct {
	limiters *cache.Cache
	mu       sync.Mutex
	rps      float64
	burst    int
	log      zerowrap.Logger
}

// NewMemoryStore creates a new in-memory rate limiter store.
func NewMemoryStore(rps float64, burst int, idleTTL time.Duration, log zerowrap.Logger) *MemoryStore {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &MemoryStore{
		limiters: cache.New(idleTTL, idleTTL),
		rps:      rps,
		burst:    burst,
		log:      log,
	}
}

// Allow checks if a request identified by key is allowed.
func (s *MemoryStore) Allow(_ context.Context, key string) bool {
	return s.getLimiter(key).Allow()
}

// AllowN checks if n requests identified by key are allowed.
func (s *MemoryStore) AllowN(_ context.Context, key string, n int) bool {
	return s.getLimiter(key).AllowN(time.Now(), n)
}

// Len returns the number of live per-key limiters.
func (s *MemoryStore) Len() int {
	return s.limiters.ItemCount()
}

// getLimiter returns the limiter for key and refreshes its idle deadline.
func (s *MemoryStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	var limiter *rate.Limiter
	if v, found := s.limiters.Get(key); found {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(rate.Limit(s.rps), s.burst)
		s.log.Debug().
			Str(zerowrap.FieldLayer, "adapter").
			Str(zerowrap.FieldAdapter, "ratelimit").
			Str("key", key).
			Msg("rate limiter created")
	}
	s.limiters.SetDefault(key, limiter)
	return limiter
}
