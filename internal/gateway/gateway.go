// Package gateway implements the direct mesh-to-mesh path: connections
// addressed to the proxy's own port are identified as gateway traffic,
// required to carry identity on both sides, resolved to a canonical
// host, and forwarded into the outbound pipeline with a Forwarded header
// that also defends against forwarding loops.
//
// Grounded on original_source/linkerd/app/gateway/src/http.rs for the
// NoAuthority|NoIdentity|BadDomain|Outbound state machine shape; the
// Forwarded-header loop scan is supplemented from spec §4.6, since
// http.rs (as retrieved) only names the forwarded_header field and
// doesn't show the scan itself — the naive single-header check a first
// read suggests is insufficient once a request can carry more than one
// Forwarded header, so every value is scanned.
package gateway

import (
	"net/http"
	"strings"

	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/identity"
)

// State is the tagged outcome of preparing a gateway request, mirroring
// http.rs's HttpGateway enum.
type State int

const (
	StateNoAuthority State = iota
	StateNoIdentity
	StateBadDomain
	StateOutbound
)

// Request is the gateway-relevant subset of an inbound HTTP request: its
// authority/Host, protocol, peer identity, and all Forwarded header
// values already present.
type Request struct {
	Authority         string
	HostHeader        string
	IsHTTP10OrHTTP11  bool
	PeerID            identity.ClientID
	PeerIDKnown       bool
	LocalID           identity.ClientID
	ExistingForwarded []string
	CanonicalHost     string // from the profile, if resolved
}

// Prepared is the result of evaluating a Request against the gateway
// state machine: either a terminal state with its reason, or an Outbound
// state carrying the headers to attach before dispatch.
type Prepared struct {
	State            State
	BadDomainName    string
	ForwardedHeader  string
	ResolvedHost     string
}

// Prepare evaluates spec §4.6's gateway rules against req.
func Prepare(req Request) (Prepared, error) {
	if !req.PeerIDKnown || req.LocalID == "" {
		return Prepared{State: StateNoIdentity}, errkind.New(errkind.IdentityRequired, "gateway requires identity on both sides")
	}

	host := req.CanonicalHost
	if host == "" {
		host = authorityOrHost(req)
	}
	if host == "" {
		return Prepared{State: StateNoAuthority}, errkind.New(errkind.NoAuthority, "no authority or Host header present")
	}
	if req.CanonicalHost == "" && !validDomain(host) {
		return Prepared{State: StateBadDomain, BadDomainName: host}, errkind.New(errkind.BadDomain, "not a valid domain: "+host)
	}

	if err := checkLoop(req.ExistingForwarded, string(req.LocalID)); err != nil {
		return Prepared{}, err
	}

	forwarded := "by=" + string(req.LocalID) + ";for=" + string(req.PeerID) + ";host=" + host + ";proto=https"

	return Prepared{
		State:           StateOutbound,
		ForwardedHeader: forwarded,
		ResolvedHost:    host,
	}, nil
}

func authorityOrHost(req Request) string {
	if req.Authority != "" {
		return req.Authority
	}
	return req.HostHeader
}

func validDomain(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r == ' ' || r == '/' {
			return false
		}
	}
	return true
}

// checkLoop scans every existing Forwarded header value — not just the
// first — for a by= parameter equal to localID, per spec §4.6's loop
// prevention rule.
func checkLoop(existing []string, localID string) error {
	for _, header := range existing {
		for _, part := range strings.Split(header, ";") {
			part = strings.TrimSpace(part)
			name, value, ok := strings.Cut(part, "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(name), "by") {
				continue
			}
			if strings.Trim(strings.TrimSpace(value), `"`) == localID {
				return errkind.New(errkind.GatewayLoop, "Forwarded header already names this proxy: "+localID)
			}
		}
	}
	return nil
}

// ApplyHeaders attaches the computed Forwarded header and, for HTTP/1.x
// requests, overwrites Host with the resolved authority.
func ApplyHeaders(h http.Header, p Prepared, isHTTP1 bool) {
	h.Add("Forwarded", p.ForwardedHeader)
	if isHTTP1 {
		h.Set("Host", p.ResolvedHost)
	}
}
