// Package tlsterm implements conditional TLS termination for the inbound
// path: terminate locally when the detected SNI matches this proxy's own
// identity, otherwise pass the connection through opaquely.
//
// Grounded on original_source/linkerd/tls/src/server/handshake.rs and
// mod.rs for the Established|Passthru|Disabled state machine, and on
// tamecalm-signal-proxy/internal/proxy/handler.go's tlsConn.Handshake()
// + ConnectionState() call for the actual stdlib handshake mechanics.
package tlsterm

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/linkerd-sidecar/meshcore/internal/detect"
	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/identity"
)

// DisabledReason names why TLS termination did not happen on a
// connection that nonetheless proceeds (opaquely forwarded).
type DisabledReason int

const (
	ReasonAdministrativelyOff DisabledReason = iota
	ReasonLoopback
	ReasonPortSkipped
	ReasonNoClientHello
	ReasonDetectTimeout
)

func (r DisabledReason) String() string {
	switch r {
	case ReasonAdministrativelyOff:
		return "administratively_off"
	case ReasonLoopback:
		return "loopback"
	case ReasonPortSkipped:
		return "port_skipped"
	case ReasonNoClientHello:
		return "no_client_hello"
	case ReasonDetectTimeout:
		return "detect_timeout"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of attempting conditional TLS termination.
// Exactly one of the three fields is meaningful, selected by Kind.
type Outcome struct {
	Kind OutcomeKind

	// Established fields.
	ClientID       identity.ClientID
	ClientIDKnown  bool
	NegotiatedALPN string
	Conn           net.Conn // decrypted stream, valid when Kind == Established

	// Passthru fields.
	SNI string

	// Disabled fields.
	Reason DisabledReason

	// Opaque set for Passthru and Disabled: the original, unmodified
	// connection (prefixed with any bytes already consumed by detection).
	Opaque net.Conn
}

type OutcomeKind int

const (
	Established OutcomeKind = iota
	Passthru
	Disabled
)

// ServerConfig supplies the local server identity under which this proxy
// terminates TLS when addressed by its own SNI.
type ServerConfig struct {
	LocalIdentity string
	TLSConfig     *tls.Config
}

// Terminate applies spec §4.3's decision table to a TLS detection result
// already produced by internal/detect, performing the server-side
// handshake when the SNI names this proxy's own identity.
func Terminate(ctx context.Context, conn net.Conn, det detect.TLSResult, identityRequired bool, cfg ServerConfig) (Outcome, error) {
	if !det.Matched {
		return Outcome{Kind: Disabled, Reason: ReasonNoClientHello, Opaque: conn}, nil
	}

	if det.SNI == "" || det.SNI != cfg.LocalIdentity {
		return Outcome{Kind: Passthru, SNI: det.SNI, Opaque: conn}, nil
	}

	tlsConn := tls.Server(conn, cfg.TLSConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return Outcome{}, errkind.Wrap(errkind.TLSHandshake, "TLS handshake failed", err)
	}

	state := tlsConn.ConnectionState()
	var clientID identity.ClientID
	var known bool
	if len(state.PeerCertificates) > 0 {
		clientID, known = identity.FromCertificate(state.PeerCertificates[0])
	}
	if identityRequired && !known {
		return Outcome{}, errkind.New(errkind.IdentityRequired, "peer presented no usable client identity")
	}

	return Outcome{
		Kind:           Established,
		ClientID:       clientID,
		ClientIDKnown:  known,
		NegotiatedALPN: state.NegotiatedProtocol,
		Conn:           tlsConn,
	}, nil
}
