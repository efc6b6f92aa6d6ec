package stack_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/stack"
)

type echoService struct {
	readyErr error
}

func (e *echoService) Ready(ctx context.Context) error { return e.readyErr }
func (e *echoService) Call(ctx context.Context, req int) (int, error) {
	return req * 2, nil
}

func TestMapTarget(t *testing.T) {
	inner := stack.NewServiceFunc[string, int, int](func(key string) (stack.Service[int, int], error) {
		require.Equal(t, "mapped", key)
		return &echoService{}, nil
	})
	mapped := stack.MapTarget[int](inner, func(k int) string { return "mapped" })
	svc, err := mapped.NewService(7)
	require.NoError(t, err)
	resp, err := svc.Call(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 6, resp)
}

func TestSwitch(t *testing.T) {
	primary := stack.NewServiceFunc[int, int, int](func(k int) (stack.Service[int, int], error) {
		return &echoService{}, nil
	})
	var altCalled atomic.Bool
	alt := stack.NewServiceFunc[int, int, int](func(k int) (stack.Service[int, int], error) {
		altCalled.Store(true)
		return &echoService{}, nil
	})
	sw := stack.Switch(func(k int) bool { return k > 0 }, primary, alt)

	_, err := sw.NewService(1)
	require.NoError(t, err)
	require.False(t, altCalled.Load())

	_, err = sw.NewService(-1)
	require.NoError(t, err)
	require.True(t, altCalled.Load())
}

func TestFailFast(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	inner := &echoService{readyErr: errors.New("boom")}
	ff := stack.FailFast[int, int](inner, 10*time.Millisecond, clock)

	require.Error(t, ff.Ready(context.Background()))

	now = now.Add(20 * time.Millisecond)
	require.NoError(t, ff.Ready(context.Background())) // fail-fast window opened

	_, err := ff.Call(context.Background(), 1)
	require.Error(t, err)
	require.Equal(t, errkind.FailFast, errkind.KindOf(err))
}

func TestConcurrencyLimit(t *testing.T) {
	block := make(chan struct{})
	inner := stack.ServiceFunc[int, int]{
		ReadyFunc: func(context.Context) error { return nil },
		CallFunc: func(ctx context.Context, req int) (int, error) {
			<-block
			return req, nil
		},
	}
	limited := stack.ConcurrencyLimit[int, int](inner, 1)

	go func() {
		limited.Call(context.Background(), 1)
	}()
	time.Sleep(5 * time.Millisecond)

	_, err := limited.Call(context.Background(), 1)
	require.Error(t, err)
	require.Equal(t, errkind.LoadShed, errkind.KindOf(err))
	close(block)
}

func TestTimeout(t *testing.T) {
	slow := stack.ServiceFunc[int, int]{
		ReadyFunc: func(ctx context.Context) error { return nil },
		CallFunc: func(ctx context.Context, req int) (int, error) {
			select {
			case <-time.After(50 * time.Millisecond):
				return req, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		},
	}
	bounded := stack.Timeout[int, int](slow, 5*time.Millisecond)
	_, err := bounded.Call(context.Background(), 1)
	require.Error(t, err)
	require.Equal(t, errkind.Timeout, errkind.KindOf(err))
}

func TestRouterDispatchesByKey(t *testing.T) {
	perKey := stack.NewServiceFunc[string, int, int](func(key string) (stack.Service[int, int], error) {
		if key == "double" {
			return &echoService{}, nil
		}
		return stack.ServiceFunc[int, int]{
			ReadyFunc: func(context.Context) error { return nil },
			CallFunc:  func(ctx context.Context, req int) (int, error) { return req, nil },
		}, nil
	})
	r := stack.Router[string, int, int](perKey, func(req int) string {
		if req > 0 {
			return "double"
		}
		return "identity"
	})

	resp, err := r.Call(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, 10, resp)

	resp, err = r.Call(context.Background(), -5)
	require.NoError(t, err)
	require.Equal(t, -5, resp)
}

func TestCacheSingleFlight(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	var builds atomic.Int32

	inner := stack.NewServiceFunc[string, int, int](func(key string) (stack.Service[int, int], error) {
		builds.Add(1)
		return &echoService{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cached := stack.Cache[string, int, int](ctx, inner, 10*time.Millisecond, time.Millisecond, clock)

	svc1, err := cached.NewService("a")
	require.NoError(t, err)
	svc2, err := cached.NewService("a")
	require.NoError(t, err)

	require.NoError(t, svc1.Ready(context.Background()))
	require.NoError(t, svc2.Ready(context.Background()))

	require.EqualValues(t, 1, builds.Load())
}

func TestInsertAndRetrieveTarget(t *testing.T) {
	type myTarget struct{ Name string }
	ctx := stack.InsertTarget(context.Background(), myTarget{Name: "app"})
	got, ok := stack.FromContext[myTarget](ctx)
	require.True(t, ok)
	require.Equal(t, "app", got.Name)

	_, ok = stack.FromContext[int](ctx)
	require.False(t, ok)
}
