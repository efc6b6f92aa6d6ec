// Package tcpforward implements the opaque full-duplex copy loop used
// whenever a connection passes through the proxy without protocol
// awareness: TLS passthrough, ports that skip detection, and connections
// that fail HTTP detection.
//
// Grounded on tamecalm-signal-proxy/internal/proxy/handler.go's
// copyWithContext relay pair (two io.Copy goroutines joined on a
// buffered done channel, deadlines forced on context cancellation),
// extended with a per-direction half-close on source EOF and a drain
// grace timer started by a shared drain.Watch.
package tcpforward

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/linkerd-sidecar/meshcore/internal/drain"
	"github.com/linkerd-sidecar/meshcore/internal/errkind"
)

// halfCloser is implemented by net.TCPConn and any net.Conn wrapper that
// supports shutting down one direction without closing the whole socket.
type halfCloser interface {
	CloseWrite() error
}

// Result reports how many bytes moved in each direction.
type Result struct {
	ClientToUpstream int64
	UpstreamToClient int64
}

// Relay runs the full-duplex copy loop between client and upstream until
// both directions finish, ctx is cancelled, or drainGrace has elapsed
// after watch signals drain. Each direction half-closes its destination
// when its source reaches EOF. The drain signal itself neither stops
// reading nor half-closes; it only starts the grace timer, on whose expiry
// both connections are closed. Any I/O error on either side tears down
// both connections immediately.
func Relay(ctx context.Context, client, upstream net.Conn, watch *drain.Watch, drainGrace time.Duration) (Result, error) {
	var res Result
	done := make(chan struct{}, 2)
	errs := make(chan error, 2)

	copyHalf := func(dst, src net.Conn, n *int64) {
		defer func() { done <- struct{}{} }()
		written, err := io.Copy(dst, src)
		*n = written
		if err != nil && err != io.EOF {
			errs <- err
			return
		}
		if hc, ok := dst.(halfCloser); ok {
			hc.CloseWrite()
		}
	}

	go copyHalf(upstream, client, &res.ClientToUpstream)
	go copyHalf(client, upstream, &res.UpstreamToClient)

	var drainTimer <-chan time.Time
	var drainCh <-chan struct{}
	if watch != nil {
		drainCh = watch.Closed()
	}

	remaining := 2
	for remaining > 0 {
		select {
		case <-done:
			remaining--
		case err := <-errs:
			client.Close()
			upstream.Close()
			return res, errkind.Wrap(errkind.Io, "tcp forward relay failed", err)
		case <-ctx.Done():
			client.Close()
			upstream.Close()
			return res, errkind.New(errkind.Cancelled, "tcp forward relay cancelled")
		case <-drainCh:
			drainCh = nil // only act on this once
			timer := time.NewTimer(drainGrace)
			defer timer.Stop()
			drainTimer = timer.C
		case <-drainTimer:
			client.Close()
			upstream.Close()
			return res, errkind.New(errkind.Cancelled, "tcp forward drain grace exceeded")
		}
	}

	client.Close()
	upstream.Close()
	return res, nil
}
