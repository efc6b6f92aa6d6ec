package detect

import (
	"bytes"
	"errors"

	"golang.org/x/net/http2"
)

// http2Preface is the fixed connection preface every HTTP/2 client sends
// before the first SETTINGS frame (RFC 7540 §3.5).
var http2Preface = []byte(http2.ClientPreface)

var httpMethods = [][]byte{
	[]byte("GET "), []byte("HEAD "), []byte("POST "), []byte("PUT "),
	[]byte("DELETE "), []byte("CONNECT "), []byte("OPTIONS "),
	[]byte("TRACE "), []byte("PATCH "),
}

// classifyHTTP inspects buf's leading bytes for an HTTP/2 preface or an
// HTTP/1 request line. It returns errIncomplete if buf is a strict prefix
// of the preface (more bytes might complete the match), or a non-nil
// error if buf is conclusively neither.
func classifyHTTP(buf []byte) (Kind, error) {
	if n := min(len(buf), len(http2Preface)); bytes.Equal(buf[:n], http2Preface[:n]) {
		if len(buf) >= len(http2Preface) {
			return HTTP2, nil
		}
		return Unknown, errIncomplete
	}

	for _, m := range httpMethods {
		if len(buf) < len(m) {
			if bytes.Equal(buf, m[:len(buf)]) {
				return Unknown, errIncomplete
			}
			continue
		}
		if bytes.Equal(buf[:len(m)], m) {
			return HTTP1, nil
		}
	}

	return Unknown, errors.New("detect: not an HTTP preamble")
}
