package drain_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/linkerd-sidecar/meshcore/internal/drain"
)

func TestEnterRejectedAfterSignal(t *testing.T) {
	w := drain.NewWatch()
	require.True(t, w.Enter())
	w.Leave()

	w.Signal()
	require.True(t, w.Draining())
	require.False(t, w.Enter())
}

func TestAwaitDrainWaitsForInFlightWork(t *testing.T) {
	w := drain.NewWatch()
	require.True(t, w.Enter())

	done := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		w.Leave()
		close(done)
	}()

	w.Signal()
	ok := w.AwaitDrain(context.Background(), time.Second)
	require.True(t, ok)
	<-done
}

func TestAwaitDrainTimesOut(t *testing.T) {
	w := drain.NewWatch()
	require.True(t, w.Enter())
	defer w.Leave()

	w.Signal()
	ok := w.AwaitDrain(context.Background(), 10*time.Millisecond)
	require.False(t, ok)
}

func TestClosedChannelFiresOnSignal(t *testing.T) {
	w := drain.NewWatch()
	select {
	case <-w.Closed():
		t.Fatal("should not be closed yet")
	default:
	}
	w.Signal()
	select {
	case <-w.Closed():
	default:
		t.Fatal("expected Closed() to fire after Signal")
	}
}
