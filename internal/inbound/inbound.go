// Package inbound assembles the accept-time pipeline of spec §4.4: a
// port-skip switch, conditional TLS detection/termination, the
// identity-required filter, the loop-prevent switch into the gateway
// sub-stack, HTTP detection, and the per-target logical stack.
//
// Grounded on tamecalm-signal-proxy/internal/proxy/server.go's Server.Start
// accept loop and semaphore admission (generalized here into a drain.Watch
// admission gate instead of a fixed channel), and
// tamecalm-signal-proxy/internal/proxy/handler.go's HandleConnection for
// the per-connection metric/deadline/relay shape. Stage ordering follows
// original_source/linkerd/app/inbound/src/lib.rs.
package inbound

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/linkerd-sidecar/meshcore/internal/config"
	"github.com/linkerd-sidecar/meshcore/internal/detect"
	"github.com/linkerd-sidecar/meshcore/internal/drain"
	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/iostream"
	"github.com/linkerd-sidecar/meshcore/internal/metrics"
	"github.com/linkerd-sidecar/meshcore/internal/outbound"
	"github.com/linkerd-sidecar/meshcore/internal/target"
	"github.com/linkerd-sidecar/meshcore/internal/tcpforward"
	"github.com/linkerd-sidecar/meshcore/internal/tlsterm"
	"github.com/linkerd-sidecar/meshcore/internal/tracing"
)

// Deps wires the inbound pipeline to the rest of the sidecar.
type Deps struct {
	Config        *config.Config
	Outbound      *outbound.Stack
	LocalIdentity string
	TLSConfig     *tls.Config
	Drain         *drain.Watch

	// OriginalDst recovers the pre-NAT destination address for an
	// accepted connection. Defaults to the platform original-destination
	// lookup, falling back to the connection's bound local address for
	// conns that lookup doesn't support (loopback tests, non-Linux).
	OriginalDst func(net.Conn) (netip.AddrPort, error)

	// OwnPort is this proxy's own inbound listening port; a connection
	// whose original destination names it directly (no NAT rewrite
	// occurred) is mesh-to-mesh gateway traffic (spec §4.4 step 4).
	OwnPort uint16
}

// Pipeline is one assembled inbound accept pipeline.
type Pipeline struct {
	deps Deps
}

// New builds a Pipeline from deps, filling OriginalDst with the default
// lookup if unset.
func New(deps Deps) *Pipeline {
	if deps.OriginalDst == nil {
		deps.OriginalDst = defaultOriginalDst
	}
	return &Pipeline{deps: deps}
}

func defaultOriginalDst(conn net.Conn) (netip.AddrPort, error) {
	if addr, err := originalDestination(conn); err == nil {
		return addr, nil
	}
	return netip.ParseAddrPort(conn.LocalAddr().String())
}

// OwnPortFromListen parses the bound port out of a "host:port" or ":port"
// listen address, for building Deps.OwnPort from config.Config.InboundListen.
func OwnPortFromListen(listen string) uint16 {
	idx := strings.LastIndex(listen, ":")
	if idx < 0 {
		return 0
	}
	p, err := strconv.ParseUint(listen[idx+1:], 10, 16)
	if err != nil {
		return 0
	}
	return uint16(p)
}

// Serve runs the accept loop until ctx is done or ln.Accept fails
// terminally, admitting each connection through the drain watch.
func (p *Pipeline) Serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}

		if !p.deps.Drain.Enter() {
			conn.Close()
			continue
		}
		metrics.ConnectsTotal.WithLabelValues("inbound").Inc()
		metrics.ActiveConns.WithLabelValues("inbound").Inc()
		go func() {
			defer p.deps.Drain.Leave()
			defer metrics.ActiveConns.WithLabelValues("inbound").Dec()
			p.handleConn(ctx, conn)
		}()
	}
}

func (p *Pipeline) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	spanID := tracing.NewSpanID()
	ctx = tracing.WithSpan(ctx, spanID)
	logger := slog.Default().With(slog.String("span", spanID), slog.String("peer", conn.RemoteAddr().String()))

	origDst, err := p.deps.OriginalDst(conn)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(errkind.Internal.String()).Inc()
		logger.Error("original destination lookup failed", slog.Any("err", err))
		return
	}
	peer, _ := netip.ParseAddrPort(conn.RemoteAddr().String())

	// 1. Port-skip switch.
	if p.deps.Config.DisableProtocolDetectionForPorts.Has(origDst.Port()) {
		p.forwardOpaque(ctx, conn, origDst)
		return
	}

	// 2. TLS detection/termination.
	pc := iostream.NewPeekConn(conn, 512)
	det, err := detect.DetectTLS(ctx, pc, p.deps.Config.DetectProtocolTimeout)
	metrics.DetectOutcomesTotal.WithLabelValues("tls", detectLabel(det.Matched, err)).Inc()
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(errkind.KindOf(err).String()).Inc()
		return
	}

	identityRequired := p.deps.Config.RequireIdentityForInboundPorts.Has(origDst.Port())
	outcome, err := tlsterm.Terminate(ctx, pc.Prefix(), det, identityRequired, tlsterm.ServerConfig{
		LocalIdentity: p.deps.LocalIdentity,
		TLSConfig:     p.deps.TLSConfig,
	})
	if err != nil {
		metrics.TLSHandshakesTotal.WithLabelValues("rejected").Inc()
		metrics.ErrorsTotal.WithLabelValues(errkind.KindOf(err).String()).Inc()
		logger.Warn("tls termination failed", slog.Any("err", err))
		return
	}

	// 3. Identity-required filter, for the outcomes Terminate doesn't
	// already reject on its own (Established+anonymous already errors
	// above; Disabled/Passthru carry no identity at all).
	if identityRequired && outcome.Kind != tlsterm.Established {
		metrics.ErrorsTotal.WithLabelValues(errkind.IdentityRequired.String()).Inc()
		return
	}

	meta := target.AcceptMeta{OriginalDst: origDst, Peer: peer, TLS: outcome}
	isGateway := origDst.Port() == p.deps.OwnPort

	// 4. Loop-prevent switch happens inside routeConn via isGateway; the
	// TLS outcome itself decides whether further HTTP detection is even
	// possible.
	switch outcome.Kind {
	case tlsterm.Established:
		metrics.TLSHandshakesTotal.WithLabelValues("established").Inc()
		p.routeConn(ctx, outcome.Conn, meta, isGateway)
	case tlsterm.Disabled:
		p.routeConn(ctx, outcome.Opaque, meta, isGateway)
	case tlsterm.Passthru:
		// Encrypted to a different identity: opaque by construction, no
		// HTTP detection is possible.
		p.forwardOpaque(ctx, outcome.Opaque, origDst)
	}
}

// routeConn runs HTTP detection (spec §4.4 step 5) and, on a match,
// serves the connection through the HTTP router; otherwise it falls back
// to opaque TCP forwarding.
func (p *Pipeline) routeConn(ctx context.Context, conn net.Conn, meta target.AcceptMeta, isGateway bool) {
	pc := iostream.NewPeekConn(conn, 512)
	hres, err := detect.DetectHTTP(ctx, pc, p.deps.Config.DetectProtocolTimeout)
	metrics.DetectOutcomesTotal.WithLabelValues("http", detectLabel(hres.Matched, err)).Inc()
	if err != nil || !hres.Matched {
		p.forwardOpaque(ctx, pc.Prefix(), meta.OriginalDst)
		return
	}

	version := versionFromDetect(hres.Kind)
	handler := p.newHandler(meta, version)
	if isGateway {
		handler = p.wrapGateway(handler, meta, version)
	}
	p.serveOverConn(ctx, pc.Prefix(), version, handler)
}

func (p *Pipeline) forwardOpaque(ctx context.Context, conn net.Conn, origDst netip.AddrPort) {
	loopback := netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), origDst.Port())
	upstream, err := net.Dial("tcp", loopback.String())
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(errkind.Io.String()).Inc()
		return
	}
	defer upstream.Close()
	if _, err := tcpforward.Relay(ctx, conn, upstream, p.deps.Drain, p.deps.Config.DrainGrace); err != nil {
		metrics.ErrorsTotal.WithLabelValues(errkind.KindOf(err).String()).Inc()
	}
}

func versionFromDetect(k detect.Kind) target.HTTPVersion {
	if k == detect.HTTP2 {
		return target.HTTP2
	}
	return target.HTTP1
}

func detectLabel(matched bool, err error) string {
	if err != nil {
		return "timeout"
	}
	if matched {
		return "matched"
	}
	return "not_matched"
}
