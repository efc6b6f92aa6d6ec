package discovery_test

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linkerd-sidecar/meshcore/internal/config"
	"github.com/linkerd-sidecar/meshcore/internal/discovery"
	"github.com/linkerd-sidecar/meshcore/internal/discovery/discoverytest"
	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/target"
)

func TestEndpointTableAppliesAddRemoveResetDoesNotExist(t *testing.T) {
	a1 := netip.MustParseAddrPort("10.0.0.1:8080")
	a2 := netip.MustParseAddrPort("10.0.0.2:8080")

	var tbl discovery.EndpointTable
	tbl.Apply(discovery.Update{Kind: discovery.Add, Endpoints: []target.Endpoint{{Addr: a1}, {Addr: a2}}})
	require.Len(t, tbl.Endpoints(), 2)

	tbl.Apply(discovery.Update{Kind: discovery.Remove, Addrs: []netip.AddrPort{a1}})
	require.Len(t, tbl.Endpoints(), 1)
	require.Equal(t, a2, tbl.Endpoints()[0].Addr)

	tbl.Apply(discovery.Update{Kind: discovery.Reset, Endpoints: []target.Endpoint{{Addr: a1}}})
	require.Len(t, tbl.Endpoints(), 1)
	require.Equal(t, a1, tbl.Endpoints()[0].Addr)

	tbl.Apply(discovery.Update{Kind: discovery.DoesNotExist})
	require.Empty(t, tbl.Endpoints())
	require.True(t, tbl.NotFound())
}

func TestAllowProfileRejectsOutsideAllowList(t *testing.T) {
	policy := config.AllowDiscovery{NameSuffixes: []string{".svc.cluster.local"}}
	allow := discovery.AllowProfile{Policy: policy}

	err := allow.Check("backend.default.svc.cluster.local", netip.Addr{})
	require.NoError(t, err)

	err = allow.Check("evil.example.com", netip.Addr{})
	require.Error(t, err)
	require.Equal(t, errkind.DiscoveryRejected, errkind.KindOf(err))
}

func TestFakeClientProfileWatchDeliversUpdates(t *testing.T) {
	client := discoverytest.New()
	handle := client.SeedProfile("backend", discovery.Profile{CanonicalName: "backend.v1"})

	watch, err := client.GetProfile(context.Background(), "backend")
	require.NoError(t, err)
	require.Equal(t, "backend.v1", watch.Current().CanonicalName)

	handle.Push(discovery.Profile{CanonicalName: "backend.v2"})
	updated := <-watch.Updates()
	require.Equal(t, "backend.v2", updated.CanonicalName)
}

func TestFakeClientResolveStreamDeliversUpdates(t *testing.T) {
	client := discoverytest.New()
	handle := client.SeedResolve("backend:8080")

	stream, err := client.Resolve(context.Background(), "backend:8080")
	require.NoError(t, err)

	addr := netip.MustParseAddrPort("10.0.0.5:8080")
	handle.Push(discovery.Update{Kind: discovery.Add, Endpoints: []target.Endpoint{{Addr: addr}}})

	u, err := stream.Recv(context.Background())
	require.NoError(t, err)
	require.Equal(t, discovery.Add, u.Kind)
	require.Equal(t, addr, u.Endpoints[0].Addr)
}
