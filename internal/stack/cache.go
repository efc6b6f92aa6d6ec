package stack

import (
	"context"
	"time"

	"github.com/linkerd-sidecar/meshcore/internal/svccache"
)

// Cache wraps inner with per-key idempotent construction and idle
// eviction, spec §4.1's cache(max_idle) built atop internal/svccache
// (spec §4.8).
func Cache[K comparable, Req, Resp any](
	ctx context.Context,
	inner NewService[K, Req, Resp],
	maxIdle time.Duration,
	sweepInterval time.Duration,
	now func() time.Time,
) NewService[K, Req, Resp] {
	c := svccache.New[K, Service[Req, Resp]](maxIdle, now, func(ctx context.Context, key K) (Service[Req, Resp], error) {
		return inner.NewService(key)
	})
	go c.RunSweeper(ctx, sweepInterval)

	return NewServiceFunc[K, Req, Resp](func(key K) (Service[Req, Resp], error) {
		return &cachedService[K, Req, Resp]{cache: c, key: key}, nil
	})
}

// cachedService lazily resolves to the cached inner service on first Ready
// or Call, and touches the cache entry's last-used time on every
// successful readiness (spec §4.8).
type cachedService[K comparable, Req, Resp any] struct {
	cache *svccache.Cache[K, Service[Req, Resp]]
	key   K
}

func (c *cachedService[K, Req, Resp]) resolve(ctx context.Context) (Service[Req, Resp], error) {
	return c.cache.GetOrMake(ctx, c.key)
}

func (c *cachedService[K, Req, Resp]) Ready(ctx context.Context) error {
	svc, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	if err := svc.Ready(ctx); err != nil {
		return err
	}
	c.cache.Touch(c.key)
	return nil
}

func (c *cachedService[K, Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	svc, err := c.resolve(ctx)
	if err != nil {
		var zero Resp
		return zero, err
	}
	return svc.Call(ctx, req)
}
