package ratelimit

import (
	"fmt"

	"github.com/bnema/zerowrap"

	"github.com/bnema/toolshed/internal/boundaries/out"
)

// Config selects and tunes a rate limiter backend.
type Config struct {
	Backend  string  `mapstructure:"backend"`
	RPS      float64 `mapstructure:"rps"`
	Burst    int     `mapstructure:"burst"`
	RedisURL string  `mapstructure:"redis_url"`
}

// NewStore creates a RateLimiter based on the configured backend.
func NewStore(cfg Config, log zerowrap.Logger) (out.RateLimiter, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryStore(cfg.RPS, cfg.Burst, DefaultIdleTTL, log), nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis rate limit backend requires redis_url")
		}
		store, err := NewRedisStore(cfg.RedisURL, cfg.RPS, cfg.Burst, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend: %s", cfg.Backend)
	}
}
