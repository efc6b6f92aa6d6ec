package gateway_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/gateway"
	"github.com/linkerd-sidecar/meshcore/internal/identity"
)

func baseRequest() gateway.Request {
	return gateway.Request{
		Authority:   "web.ns.svc.cluster.local",
		PeerID:      identity.ClientID("caller.default.mesh.local"),
		PeerIDKnown: true,
		LocalID:     identity.ClientID("gateway.default.mesh.local"),
	}
}

func TestPrepareOutboundBuildsForwardedHeader(t *testing.T) {
	req := baseRequest()
	p, err := gateway.Prepare(req)
	require.NoError(t, err)
	require.Equal(t, gateway.StateOutbound, p.State)
	require.Equal(t, "by=gateway.default.mesh.local;for=caller.default.mesh.local;host=web.ns.svc.cluster.local;proto=https", p.ForwardedHeader)
}

func TestPrepareNoIdentityWhenPeerUnknown(t *testing.T) {
	req := baseRequest()
	req.PeerIDKnown = false
	_, err := gateway.Prepare(req)
	require.Error(t, err)
	require.Equal(t, errkind.IdentityRequired, errkind.KindOf(err))
}

func TestPrepareNoAuthorityWhenNothingToResolve(t *testing.T) {
	req := baseRequest()
	req.Authority = ""
	req.HostHeader = ""
	_, err := gateway.Prepare(req)
	require.Error(t, err)
	require.Equal(t, errkind.NoAuthority, errkind.KindOf(err))
}

func TestPrepareBadDomainRejectsInvalidHost(t *testing.T) {
	req := baseRequest()
	req.Authority = "not a domain/with slash"
	_, err := gateway.Prepare(req)
	require.Error(t, err)
	require.Equal(t, errkind.BadDomain, errkind.KindOf(err))
}

func TestPrepareRejectsLoopFromAnyExistingForwardedValue(t *testing.T) {
	req := baseRequest()
	req.ExistingForwarded = []string{
		`by=some-other-hop.default.mesh.local;for=caller.default.mesh.local;proto=https`,
		`by=gateway.default.mesh.local;for=prior-hop.default.mesh.local;proto=https`,
	}
	_, err := gateway.Prepare(req)
	require.Error(t, err)
	require.Equal(t, errkind.GatewayLoop, errkind.KindOf(err))
}

func TestPrepareUsesCanonicalHostOverAuthority(t *testing.T) {
	req := baseRequest()
	req.CanonicalHost = "web.ns.svc.cluster.local."
	p, err := gateway.Prepare(req)
	require.NoError(t, err)
	require.Equal(t, "web.ns.svc.cluster.local.", p.ResolvedHost)
}
