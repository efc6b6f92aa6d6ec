package inbound

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/http2"

	"github.com/linkerd-sidecar/meshcore/internal/target"
)

// serveOverConn hands one already-accepted connection to the stdlib
// HTTP/1 server machinery, or to x/net/http2's raw ServeConn for the
// HTTP/2 case — the latter works directly over any net.Conn, TLS or not,
// which is what lets an HTTP/2 mesh connection that a peer's outbound
// terminated locally be served without re-deriving ALPN state here.
func (p *Pipeline) serveOverConn(ctx context.Context, conn net.Conn, version target.HTTPVersion, handler http.Handler) {
	if version == target.HTTP2 {
		h2 := &http2.Server{}
		h2.ServeConn(conn, &http2.ServeConnOpts{Context: ctx, Handler: handler})
		return
	}

	ln := newOnceListener(conn)
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: p.deps.Config.H1.HeaderReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	_ = srv.Serve(ln)
}

// onceListener adapts a single already-accepted net.Conn into the
// net.Listener shape http.Server.Serve expects, yielding that one
// connection and then blocking until Close, mirroring the single-conn
// listener idiom used to run net/http over a connection the caller
// accepted itself.
type onceListener struct {
	ch     chan net.Conn
	closed chan struct{}
	once   sync.Once
}

func newOnceListener(conn net.Conn) *onceListener {
	ch := make(chan net.Conn, 1)
	ch <- conn
	return &onceListener{ch: ch, closed: make(chan struct{})}
}

func (l *onceListener) Accept() (net.Conn, error) {
	select {
	case c, ok := <-l.ch:
		if !ok {
			return nil, io.EOF
		}
		return c, nil
	case <-l.closed:
		return nil, io.ErrClosedPipe
	}
}

func (l *onceListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *onceListener) Addr() net.Addr {
	return &net.TCPAddr{}
}
