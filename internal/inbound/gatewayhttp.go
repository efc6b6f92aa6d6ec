package inbound

import (
	"net/http"

	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/gateway"
	"github.com/linkerd-sidecar/meshcore/internal/identity"
	"github.com/linkerd-sidecar/meshcore/internal/metrics"
	"github.com/linkerd-sidecar/meshcore/internal/outbound"
	"github.com/linkerd-sidecar/meshcore/internal/target"
)

// wrapGateway applies spec §4.6's direct-path state machine in front of
// the regular per-target handler: it requires identity on both sides,
// resolves a canonical host, scans for forwarding loops, and on success
// attaches the Forwarded header before falling through to the same
// outbound dispatch every other inbound request uses.
func (p *Pipeline) wrapGateway(next http.Handler, meta target.AcceptMeta, version target.HTTPVersion) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// spec §4.6 step 2: the canonical host comes from the profile
		// first, via the same bounded lookup the per-target stack uses, so
		// a profile's name can correct/override a malformed or missing
		// Host; bad_domain/no_authority only fire when neither a profile
		// nor a valid raw authority exists.
		var canonicalHost string
		if name := outbound.ResolveLogicalName(r.Header, r.Host, meta.OriginalDst); name != "" {
			if profile, ok := p.deps.Outbound.Profile(name, p.deps.Config.ProfileIdleTimeout); ok {
				canonicalHost = profile.CanonicalName
			}
		}

		req := gateway.Request{
			Authority:         r.Host,
			HostHeader:        r.Header.Get("Host"),
			PeerID:            meta.TLS.ClientID,
			PeerIDKnown:       meta.TLS.ClientIDKnown,
			LocalID:           identity.ClientID(p.deps.LocalIdentity),
			ExistingForwarded: r.Header.Values("Forwarded"),
			CanonicalHost:     canonicalHost,
		}

		prepared, err := gateway.Prepare(req)
		if err != nil {
			if errkind.KindOf(err) == errkind.GatewayLoop {
				metrics.GatewayLoopRejectionsTotal.Inc()
			}
			writeError(w, err)
			return
		}

		gateway.ApplyHeaders(r.Header, prepared, version != target.HTTP2)
		next.ServeHTTP(w, r)
	})
}
