//go:build !linux

package inbound

import (
	"net"
	"net/netip"

	"github.com/linkerd-sidecar/meshcore/internal/errkind"
)

// originalDestination has no portable implementation: SO_ORIGINAL_DST is
// a Linux netfilter extension. Callers fall back to the connection's
// bound local address (see defaultOriginalDst).
func originalDestination(conn net.Conn) (netip.AddrPort, error) {
	return netip.AddrPort{}, errkind.New(errkind.Internal, "SO_ORIGINAL_DST is only available on linux")
}
