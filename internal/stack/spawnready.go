package stack

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// SpawnReady drives inner's readiness on a background task so callers
// observe ready immediately after the first ready event — spec §4.1's
// spawn_ready, grounded on original_source/linkerd/stack/src/spawn_ready.rs:
// a background loop polls inner.Ready on a short interval and records the
// latest result, which SpawnReady.Ready then reports without calling
// inner itself. A later failed poll makes Ready report that error again.
func SpawnReady[Req, Resp any](ctx context.Context, inner Service[Req, Resp], pollInterval time.Duration) Service[Req, Resp] {
	s := &spawnReady[Req, Resp]{inner: inner}
	go s.poll(ctx, pollInterval)
	return s
}

type spawnReady[Req, Resp any] struct {
	inner Service[Req, Resp]
	ready atomic.Bool
	mu    sync.Mutex
	err   error
}

func (s *spawnReady[Req, Resp]) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		err := s.inner.Ready(ctx)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if err == nil {
			s.ready.Store(true)
		} else {
			s.ready.Store(false)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (s *spawnReady[Req, Resp]) Ready(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *spawnReady[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return s.inner.Call(ctx, req)
}
