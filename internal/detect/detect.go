// Package detect implements the inbound protocol sniffers: a TLS
// ClientHello/SNI detector and an HTTP/1 vs HTTP/2 preamble detector, both
// built on the peek→grow→retry strategy of iostream.PeekConn so that the
// bytes consumed during detection are always replayable downstream.
//
// Grounded on original_source/linkerd/tls/src/server/detect.rs for the
// retry/timeout state machine (parse after every read, grow the buffer
// only once it's been filled without a match), and on
// tamecalm-signal-proxy's extractSNI (internal/proxy/server.go) for the
// ClientHello field walk, rewritten atop golang.org/x/crypto/cryptobyte
// instead of manual index arithmetic.
package detect

import (
	"context"
	"errors"
	"time"

	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/iostream"
)

const (
	initialPeekSize = 512
	growBufferSize  = 8 * 1024
	maxBufferSize   = 64 * 1024
)

// errIncomplete signals the parser needs more bytes than are currently
// buffered; it is never returned to a caller, only used internally to
// drive the retry loop.
var errIncomplete = errors.New("detect: incomplete")

// TLSResult is the outcome of DetectTLS.
type TLSResult struct {
	// SNI is the ClientHello server_name extension value, empty if absent.
	SNI string
	// Matched is true if a well-formed ClientHello was parsed at all,
	// regardless of whether it carried an SNI.
	Matched bool
}

// DetectTLS attempts to parse a TLS ClientHello from pc without consuming
// its bytes from the underlying connection. It returns Matched=false (no
// error) if the buffered bytes are conclusively not a ClientHello, and a
// Timeout-kind error if detect_protocol_timeout elapses first.
func DetectTLS(ctx context.Context, pc *iostream.PeekConn, timeout time.Duration) (TLSResult, error) {
	sni, matched, err := retryDetect(ctx, pc, timeout, parseClientHelloSNI)
	return TLSResult{SNI: sni, Matched: matched}, err
}

// Kind identifies the HTTP variant detected on a connection.
type Kind int

const (
	Unknown Kind = iota
	HTTP1
	HTTP2
)

// HTTPResult is the outcome of DetectHTTP.
type HTTPResult struct {
	Kind    Kind
	Matched bool
}

// DetectHTTP classifies the leading bytes of pc as an HTTP/1 request line
// or an HTTP/2 connection preface, using the same peek→grow→retry
// strategy as DetectTLS.
func DetectHTTP(ctx context.Context, pc *iostream.PeekConn, timeout time.Duration) (HTTPResult, error) {
	kind, matched, err := retryDetect(ctx, pc, timeout, classifyHTTP)
	return HTTPResult{Kind: kind, Matched: matched}, err
}

// retryDetect drives the shared peek→parse→grow loop: it peeks up to the
// current buffer size, hands the buffered bytes to parse, and either
// returns a match, concludes no match is possible, or grows the buffer
// and tries again — mirroring detect.rs's read_buf/parse_sni loop, which
// re-parses after every read rather than waiting for a full fixed buffer.
func retryDetect[T any](ctx context.Context, pc *iostream.PeekConn, timeout time.Duration, parse func([]byte) (T, error)) (T, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var zero T
	size := initialPeekSize
	for {
		buf, readErr := pc.Peek(cctx, size)
		value, perr := parse(buf)
		if perr == nil {
			return value, true, nil
		}
		if !errors.Is(perr, errIncomplete) {
			return zero, false, nil
		}

		if readErr != nil {
			if cctx.Err() != nil {
				return zero, false, errkind.New(errkind.Timeout, "detect: timed out before a full preamble arrived")
			}
			// Connection closed or errored before a parse could complete.
			return zero, false, nil
		}

		if len(buf) >= size {
			if size >= maxBufferSize {
				return zero, false, nil
			}
			size += growBufferSize
		}
	}
}
