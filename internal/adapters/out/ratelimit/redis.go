package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/redis/go-redis/v9"

	"github.com/bnema/toolshed/internal/boundaries/out"
)

// Ensure RedisStore implements out.RateLimiter.
var _ out.RateLimiter = (*RedisStore)(nil)

const redisKeyPrefix = "toolshed:ratelimit:"

// RedisStore is a fixed-window limiter shared by every instance using the same
// redis database. A window is one second long and admits max(burst, rps) requests.
type RedisStore struct {
	client *redis.Client
	limit  int64
	window time.Duration
	now    func() time.Time
	log    zerowrap.Logger
}

// NewRedisStore creates a limiter backed by the redis server at url.
func NewRedisStore(url string, rps float64, burst int, log zerowrap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return newRedisStore(redis.NewClient(opts), rps, burst, log), nil
}

func newRedisStore(client *redis.Client, rps float64, burst int, log zerowrap.Logger) *RedisStore {
	limit := int64(math.Ceil(rps))
	if int64(burst) > limit {
		limit = int64(burst)
	}
	return &RedisStore{
		client: client,
		limit:  limit,
		window: time.Second,
		now:    time.Now,
		log:    log,
	}
}

// Allow checks if a request identified by key is allowed.
func (s *RedisStore) Allow(ctx context.Context, key string) bool {
	return s.AllowN(ctx, key, 1)
}

// AllowN checks if n requests identified by key are allowed. Requests are let
// through when redis is unreachable.
func (s *RedisStore) AllowN(ctx context.Context, key string, n int) bool {
	slot := s.now().UnixNano() / int64(s.window)
	windowKey := fmt.Sprintf("%s%s:%d", redisKeyPrefix, key, slot)

	pipe := s.client.TxPipeline()
	incr := pipe.IncrBy(ctx, windowKey, int64(n))
	pipe.Expire(ctx, windowKey, 2*s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().
			Str(zerowrap.FieldLayer, "adapter").
			Str(zerowrap.FieldAdapter, "ratelimit").
			Err(err).
			Str("key", key).
			Msg("rate limit check failed, allowing request")
		return true
	}
	return incr.Val() <= s.limit
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
