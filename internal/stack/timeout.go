package stack

import (
	"context"
	"time"

	"github.com/linkerd-sidecar/meshcore/internal/errkind"
)

// Timeout bounds the call future; on expiry it cancels inner and fails
// with a kind-tagged Timeout error — spec §4.1's timeout(d).
func Timeout[Req, Resp any](inner Service[Req, Resp], d time.Duration) Service[Req, Resp] {
	return &timeoutService[Req, Resp]{inner: inner, d: d}
}

type timeoutService[Req, Resp any] struct {
	inner Service[Req, Resp]
	d     time.Duration
}

func (t *timeoutService[Req, Resp]) Ready(ctx context.Context) error {
	return t.inner.Ready(ctx)
}

func (t *timeoutService[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	cctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	type result struct {
		resp Resp
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := t.inner.Call(cctx, req)
		ch <- result{resp, err}
	}()

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-cctx.Done():
		var zero Resp
		return zero, errkind.Wrap(errkind.Timeout, "call exceeded timeout", cctx.Err())
	}
}
