package stack

import (
	"context"

	"github.com/linkerd-sidecar/meshcore/internal/errkind"
)

// ConcurrencyLimit caps in-flight calls to n — spec §4.1's
// concurrency_limit(n). Adapted from tamecalm-signal-proxy's connSem
// admission semaphore and, for the acquire-now-or-reject shape, from its
// RateLimiter token bucket (see DESIGN.md).
func ConcurrencyLimit[Req, Resp any](inner Service[Req, Resp], n int) Service[Req, Resp] {
	return &concurrencyLimit[Req, Resp]{inner: inner, sem: make(chan struct{}, n)}
}

type concurrencyLimit[Req, Resp any] struct {
	inner Service[Req, Resp]
	sem   chan struct{}
}

func (c *concurrencyLimit[Req, Resp]) Ready(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		<-c.sem
		return c.inner.Ready(ctx)
	default:
		return errkind.New(errkind.LoadShed, "concurrency limit reached")
	}
}

func (c *concurrencyLimit[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	select {
	case c.sem <- struct{}{}:
	default:
		var zero Resp
		return zero, errkind.New(errkind.LoadShed, "concurrency limit reached")
	}
	defer func() { <-c.sem }()
	return c.inner.Call(ctx, req)
}
