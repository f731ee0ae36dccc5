package storage

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// arena holds resolved blob values for one namespace. Concurrent resolutions of
// the same key share one fetch; distinct keys never wait on each other.
// Failed fetches are not cached.
type arena struct {
	group        singleflight.Group
	values       *cache.Cache
	fetchTimeout time.Duration
}

func newArena(ttl, fetchTimeout time.Duration) *arena {
	cleanup := 2 * ttl
	if ttl <= 0 {
		ttl = cache.NoExpiration
		cleanup = 0
	}
	return &arena{values: cache.New(ttl, cleanup), fetchTimeout: fetchTimeout}
}

func (a *arena) resolve(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	if v, ok := a.values.Get(key); ok {
		return v, nil
	}

	// The shared fetch outlives any single caller's cancellation but is bounded
	// by fetchTimeout; each caller still stops waiting when its own context ends.
	ch := a.group.DoChan(key, func() (any, error) {
		if v, ok := a.values.Get(key); ok {
			return v, nil
		}
		fetchCtx := context.WithoutCancel(ctx)
		if a.fetchTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, a.fetchTimeout)
			defer cancel()
		}
		v, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		a.values.SetDefault(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *arena) forget(key string) {
	a.values.Delete(key)
}

func (a *arena) len() int {
	return a.values.ItemCount()
}
