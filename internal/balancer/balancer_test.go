package balancer_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/linkerd-sidecar/meshcore/internal/balancer"
	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/target"
)

func TestPickPrefersLowerEWMA(t *testing.T) {
	fast := netip.MustParseAddrPort("10.0.0.1:8080")
	slow := netip.MustParseAddrPort("10.0.0.2:8080")

	b := balancer.New(50*time.Millisecond, time.Second)
	b.UpdateEndpoints([]target.Endpoint{{Addr: fast}, {Addr: slow}})

	// Report a fast RTT for `fast` and a slow RTT for `slow` repeatedly so
	// their EWMAs diverge past the shared initial RTT.
	for i := 0; i < 5; i++ {
		ep, done, err := b.Pick()
		require.NoError(t, err)
		if ep.Addr == fast {
			done(time.Millisecond)
		} else {
			done(500 * time.Millisecond)
		}
	}

	ep, done, err := b.Pick()
	require.NoError(t, err)
	require.Equal(t, fast, ep.Addr)
	done(time.Millisecond)
}

func TestPickFailsWhenNotFound(t *testing.T) {
	b := balancer.New(0, 0)
	b.UpdateEndpoints([]target.Endpoint{{Addr: netip.MustParseAddrPort("10.0.0.1:80")}})
	b.MarkNotFound()

	_, _, err := b.Pick()
	require.Error(t, err)
	require.Equal(t, errkind.NotFound, errkind.KindOf(err))
}

func TestPickFailsWhenEmpty(t *testing.T) {
	b := balancer.New(0, 0)
	_, _, err := b.Pick()
	require.Error(t, err)
	require.Equal(t, errkind.NotFound, errkind.KindOf(err))
}

func TestWeightedSplitExcludesZeroWeights(t *testing.T) {
	concretes := []target.Concrete{
		{SplitTarget: "a", Weight: 0},
		{SplitTarget: "b", Weight: 1},
	}
	picked, ok := balancer.WeightedSplit(concretes, func(n int) int { return 0 })
	require.True(t, ok)
	require.Equal(t, "b", picked.SplitTarget)
}

func TestWeightedSplitAllZeroWeightsFails(t *testing.T) {
	concretes := []target.Concrete{{SplitTarget: "a", Weight: 0}}
	_, ok := balancer.WeightedSplit(concretes, func(n int) int { return 0 })
	require.False(t, ok)
}
