package svccache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/linkerd-sidecar/meshcore/internal/svccache"
)

func TestGetOrMakeSingleFlight(t *testing.T) {
	var builds atomic.Int32
	started := make(chan struct{})
	proceed := make(chan struct{})

	c := svccache.New[string, int](time.Minute, time.Now, func(ctx context.Context, key string) (int, error) {
		builds.Add(1)
		close(started)
		<-proceed
		return 42, nil
	})

	var wg sync.WaitGroup
	results := make([]int, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrMake(context.Background(), "k")
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	<-started
	close(proceed)
	wg.Wait()

	require.EqualValues(t, 1, builds.Load())
	for _, v := range results {
		require.Equal(t, 42, v)
	}
}

func TestEvictionAfterIdle(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	var builds atomic.Int32

	c := svccache.New[string, int](10*time.Millisecond, clock, func(ctx context.Context, key string) (int, error) {
		builds.Add(1)
		return int(builds.Load()), nil
	})

	v1, err := c.GetOrMake(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, 1, v1)

	now = now.Add(20 * time.Millisecond)
	evicted := c.Sweep()
	require.Equal(t, 1, evicted)

	v2, err := c.GetOrMake(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, 2, v2)
	require.EqualValues(t, 2, c.BuildCount())
}

func TestConstructionErrorNotCached(t *testing.T) {
	attempts := 0
	c := svccache.New[string, int](time.Minute, time.Now, func(ctx context.Context, key string) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, assertErr{}
		}
		return 99, nil
	})

	_, err := c.GetOrMake(context.Background(), "k")
	require.Error(t, err)

	v, err := c.GetOrMake(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, 99, v)
}

type assertErr struct{}

func (assertErr) Error() string { return "build failed" }
