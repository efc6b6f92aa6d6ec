package outbound_test

import (
	"context"
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/linkerd-sidecar/meshcore/internal/config"
	"github.com/linkerd-sidecar/meshcore/internal/discovery"
	"github.com/linkerd-sidecar/meshcore/internal/discovery/discoverytest"
	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/outbound"
	"github.com/linkerd-sidecar/meshcore/internal/target"
)

func TestResolveLogicalNamePriorityChain(t *testing.T) {
	origDst := netip.MustParseAddrPort("10.0.0.5:8080")

	h := http.Header{}
	require.Equal(t, "10.0.0.5:8080", outbound.ResolveLogicalName(h, "", origDst))

	h.Set("Host", "host-header.svc")
	require.Equal(t, "host-header.svc", outbound.ResolveLogicalName(h, "", origDst))

	require.Equal(t, "authority.svc", outbound.ResolveLogicalName(h, "authority.svc", origDst))

	h.Set(outbound.DstOverrideHeader, "override.svc")
	require.Equal(t, "override.svc", outbound.ResolveLogicalName(h, "authority.svc", origDst))
}

func newTestConfig() *config.Config {
	cfg := &config.Config{
		ConnectTimeout:  50 * time.Millisecond,
		DispatchTimeout: 200 * time.Millisecond,
		CacheMaxIdleAge: time.Minute,
		ConnectBackoff:  config.Backoff{Min: 5 * time.Millisecond, Max: 20 * time.Millisecond, Jitter: 0},
	}
	return cfg
}

func TestPickResolvesThroughProfileAndBalancer(t *testing.T) {
	client := discoverytest.New()
	profileHandle := client.SeedProfile("web.ns.svc.cluster.local", discovery.Profile{
		Targets: []target.Concrete{
			{Logical: target.Logical{Name: "web.ns.svc.cluster.local"}, SplitTarget: "web-v1", Weight: 1},
		},
	})
	_ = profileHandle
	resolveHandle := client.SeedResolve("web-v1")
	resolveHandle.Push(discovery.Update{
		Kind: discovery.Add,
		Endpoints: []target.Endpoint{
			{Addr: netip.MustParseAddrPort("10.0.0.1:8080")},
		},
	})

	stack := outbound.NewStack(newTestConfig(), client)

	var ep target.Endpoint
	var err error
	require.Eventually(t, func() bool {
		ep, _, err = stack.Pick(context.Background(), "web.ns.svc.cluster.local")
		return err == nil
	}, time.Second, time.Millisecond)

	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddrPort("10.0.0.1:8080"), ep.Addr)
}

func TestPickFailsForUnknownLogical(t *testing.T) {
	client := discoverytest.New()
	stack := outbound.NewStack(newTestConfig(), client)

	_, _, err := stack.Pick(context.Background(), "unseeded.svc")
	require.Error(t, err)
}

func TestConnectReportsBadGatewayAfterRetriesExhausted(t *testing.T) {
	client := discoverytest.New()
	stack := outbound.NewStack(newTestConfig(), client)

	// Nothing is listening on this port; dial should fail and keep
	// retrying until dispatch timeout elapses.
	ep := target.Endpoint{Addr: netip.MustParseAddrPort("127.0.0.1:1")}

	start := time.Now()
	_, err := stack.Connect(context.Background(), ep)
	elapsed := time.Since(start)

	require.Error(t, err)
	require.Equal(t, http.StatusBadGateway, errkind.HTTPStatus(errkind.KindOf(err)))
	require.Less(t, elapsed, time.Second)
}
