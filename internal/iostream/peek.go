// Package iostream provides the peekable/prefixed stream abstractions that
// spec §4.2's detectors need: a non-destructive peek that can grow its
// buffer across retries, and a wrapper that replays a captured prefix
// before reading through to the underlying connection, so detection never
// loses a byte (spec §8 invariant 1).
//
// Grounded on tamecalm-signal-proxy's PeekSNI/extractSNI read pattern
// (internal/proxy/server.go), generalized into a reusable, truly lossless
// wrapper — that function re-reads from a single fixed buffer and never
// replays it to a downstream reader.
package iostream

import (
	"context"
	"net"
)

// PeekConn wraps a net.Conn and accumulates bytes read from it into a
// growable buffer, so repeated Peek calls can request progressively more
// bytes without ever consuming them from the underlying connection.
type PeekConn struct {
	net.Conn
	buf []byte // all bytes read ahead so far
}

// NewPeekConn wraps conn for peeking. initialBufSize only pre-allocates
// capacity; it does not bound how far Peek can grow.
func NewPeekConn(conn net.Conn, initialBufSize int) *PeekConn {
	return &PeekConn{Conn: conn, buf: make([]byte, 0, initialBufSize)}
}

// Peek ensures up to want bytes have been read ahead and returns whatever
// is currently buffered (which may be fewer than want bytes, if only a
// partial read has happened so far) without consuming them. Each call
// performs at most one Read against the underlying connection — callers
// that need more data call Peek again, mirroring a detector that parses
// after every read rather than waiting to fill a fixed-size buffer.
// A non-nil error (EOF, another read error, or ctx expiring) is returned
// alongside whatever was buffered before the error occurred; a short read
// is not an error.
func (p *PeekConn) Peek(ctx context.Context, want int) ([]byte, error) {
	if cap(p.buf) < want {
		grown := make([]byte, len(p.buf), want)
		copy(grown, p.buf)
		p.buf = grown
	}
	if len(p.buf) >= want {
		return p.buf[:want], nil
	}
	if ctx.Err() != nil {
		return p.buf, ctx.Err()
	}

	chunk := make([]byte, want-len(p.buf))
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		nread, err := p.Conn.Read(chunk)
		ch <- result{nread, err}
	}()
	select {
	case res := <-ch:
		if res.n > 0 {
			p.buf = append(p.buf, chunk[:res.n]...)
		}
		return p.buf, res.err
	case <-ctx.Done():
		return p.buf, ctx.Err()
	}
}

// Prefix returns a net.Conn that replays every byte peeked so far before
// reading through to the underlying connection — used once detection
// concludes and ownership of the byte stream passes to the next layer.
func (p *PeekConn) Prefix() net.Conn {
	captured := make([]byte, len(p.buf))
	copy(captured, p.buf)
	return NewPrefixedConn(p.Conn, captured)
}
