//go:build linux

package inbound

import (
	"net"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/linkerd-sidecar/meshcore/internal/errkind"
)

// soOriginalDst is netfilter's SO_ORIGINAL_DST, which returns the pre-NAT
// destination address of a connection redirected by an iptables REDIRECT
// or TPROXY rule — the mechanism a transparent sidecar relies on to
// recover the application's intended destination.
const soOriginalDst = 80

// originalDestination reads SO_ORIGINAL_DST off conn's underlying socket.
// It reuses unix.GetsockoptIPv6Mreq as the getsockopt call: the stdlib
// exposes no generic getsockopt, and IPv6Mreq's 16-byte Multiaddr field
// happens to be exactly the size of the sockaddr_in SO_ORIGINAL_DST
// fills, a trick several Go transparent proxies rely on in the absence
// of a typed binding for this option.
func originalDestination(conn net.Conn) (netip.AddrPort, error) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return netip.AddrPort{}, errkind.New(errkind.Internal, "original destination lookup requires a *net.TCPConn")
	}
	raw, err := tcpConn.SyscallConn()
	if err != nil {
		return netip.AddrPort{}, errkind.Wrap(errkind.Internal, "SyscallConn failed", err)
	}

	var addr netip.AddrPort
	var sockErr error
	ctlErr := raw.Control(func(fd uintptr) {
		mreq, gerr := unix.GetsockoptIPv6Mreq(int(fd), unix.IPPROTO_IP, soOriginalDst)
		if gerr != nil {
			sockErr = gerr
			return
		}
		sa := mreq.Multiaddr
		port := uint16(sa[2])<<8 | uint16(sa[3])
		ip := netip.AddrFrom4([4]byte{sa[4], sa[5], sa[6], sa[7]})
		addr = netip.AddrPortFrom(ip, port)
	})
	if ctlErr != nil {
		return netip.AddrPort{}, errkind.Wrap(errkind.Internal, "SO_ORIGINAL_DST control call failed", ctlErr)
	}
	if sockErr != nil {
		return netip.AddrPort{}, errkind.Wrap(errkind.Internal, "SO_ORIGINAL_DST getsockopt failed", sockErr)
	}
	return addr, nil
}
