// Package target defines the shared vocabulary every stage of the
// inbound/outbound resolution chain passes around instead of each stage
// inventing its own: the accept-time metadata of a connection, the
// routing key derived from it, and the Logical/Concrete/Endpoint/Route
// family that names a destination with increasing precision as it moves
// from a header-derived name down to a dialable socket.
//
// Grounded on spec §3 directly; shaped like
// original_source/linkerd/app/outbound/src/endpoint.rs's
// Logical/Concrete/HttpEndpoint family (one Endpoint stands in for the
// original's split HttpEndpoint/TcpEndpoint pair, since neither this
// proxy's opaque-forward nor HTTP dispatch path needs a distinct
// wire-level type) and linkerd/app/core/src/dst.rs for Route.
package target

import (
	"net/netip"

	"github.com/linkerd-sidecar/meshcore/internal/identity"
	"github.com/linkerd-sidecar/meshcore/internal/tlsterm"
)

// HTTPVersion is the wire version an inbound connection's preamble was
// sniffed as, per spec §3's Version type.
type HTTPVersion int

const (
	HTTP1 HTTPVersion = iota
	HTTP2
)

func (v HTTPVersion) String() string {
	if v == HTTP2 {
		return "h2"
	}
	return "h1"
}

// AcceptMeta is the immutable record of a newly accepted connection: its
// original (pre-NAT) destination, the peer address, and the conditional
// TLS outcome produced by internal/tlsterm. Created by the listener shim,
// consumed by the pipeline, discarded with the connection.
type AcceptMeta struct {
	OriginalDst netip.AddrPort
	Peer        netip.AddrPort
	TLS         tlsterm.Outcome
}

// Target is the inbound routing key: original destination, optional
// client identity, optional HTTP version, per spec §3. It is only
// constructed once identity requirements (spec §4.4) are satisfied.
type Target struct {
	OriginalDst   netip.AddrPort
	ClientID      identity.ClientID
	ClientIDKnown bool
	Version       HTTPVersion
}

// FromAcceptMeta derives the inbound Target key from accept metadata and
// the sniffed HTTP version.
func FromAcceptMeta(meta AcceptMeta, version HTTPVersion) Target {
	return Target{
		OriginalDst:   meta.OriginalDst,
		ClientID:      meta.TLS.ClientID,
		ClientIDKnown: meta.TLS.ClientIDKnown,
		Version:       version,
	}
}

// Logical is a routable destination expressed as name-or-socket: the
// result of resolving host/authority/override headers. Name is stored as
// resolved; nothing in this module overwrites it with a profile's
// canonical name. Only the gateway path uses discovery.Profile.CanonicalName,
// as the forwarded request's host.
type Logical struct {
	Name string
}

// Concrete is a (logical, split-target) pair produced by a profile's
// weighted traffic split: SplitTarget names the resolvable address this
// slice of traffic is sent to, and Weight is its share (zero excludes it,
// per spec §4.5).
type Concrete struct {
	Logical     Logical
	SplitTarget string
	Weight      uint32
}

// Endpoint is a resolved (socket, identity?, metadata) tuple delivered by
// the discovery endpoint stream.
type Endpoint struct {
	Addr          netip.AddrPort
	Identity      identity.ClientID
	IdentityKnown bool
	Metadata      map[string]string
}

// Route is a value-typed join of a logical target and a matched route
// spec, used as the key for per-route metrics and response
// classification. internal/inbound derives one per request from the route
// table captured when its per-logical service was built; a newer profile
// snapshot is not seen until that cached service is rebuilt.
type Route struct {
	LogicalAddr string
	RouteSpec   string
	Direction   string
}
