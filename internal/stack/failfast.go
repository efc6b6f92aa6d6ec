package stack

import (
	"context"
	"sync"
	"time"

	"github.com/linkerd-sidecar/meshcore/internal/errkind"
)

// FailFast wraps inner so that once it has been unready for longer than
// timeout, every pending and new call fails immediately with a retryable
// FailFast error, until inner becomes ready again — spec §4.1's
// fail_fast(timeout).
func FailFast[Req, Resp any](inner Service[Req, Resp], timeout time.Duration, now func() time.Time) Service[Req, Resp] {
	return &failFast[Req, Resp]{inner: inner, timeout: timeout, now: now}
}

type failFast[Req, Resp any] struct {
	inner   Service[Req, Resp]
	timeout time.Duration
	now     func() time.Time

	mu           sync.Mutex
	unreadySince time.Time
	failing      bool
}

func (f *failFast[Req, Resp]) Ready(ctx context.Context) error {
	err := f.inner.Ready(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		f.unreadySince = time.Time{}
		f.failing = false
		return nil
	}
	if f.unreadySince.IsZero() {
		f.unreadySince = f.now()
	}
	if f.now().Sub(f.unreadySince) >= f.timeout {
		f.failing = true
		return nil // report ready so callers can observe the fail-fast error via Call
	}
	return err
}

func (f *failFast[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		var zero Resp
		return zero, errkind.New(errkind.FailFast, "inner service unready past fail-fast timeout")
	}
	return f.inner.Call(ctx, req)
}
