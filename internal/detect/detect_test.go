package detect_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/linkerd-sidecar/meshcore/internal/detect"
	"github.com/linkerd-sidecar/meshcore/internal/iostream"
)

// buildClientHello assembles a minimal but well-formed TLS 1.2 ClientHello
// record carrying a single server_name extension, for detector tests.
func buildClientHello(sni string) []byte {
	name := []byte(sni)

	serverName := append([]byte{0x00}, u16(len(name))...)
	serverName = append(serverName, name...)

	serverNameList := append(u16(len(serverName)), serverName...)

	sniExt := append([]byte{0x00, 0x00}, u16(len(serverNameList))...)
	sniExt = append(sniExt, serverNameList...)

	extensions := sniExt
	extensionsField := append(u16(len(extensions)), extensions...)

	body := []byte{0x03, 0x03}     // client_version
	body = append(body, make([]byte, 32)...) // random
	body = append(body, 0x00)                // session id len
	body = append(body, u16(2)...)            // cipher suites len
	body = append(body, 0x00, 0x2f)           // one cipher suite
	body = append(body, 0x01, 0x00)           // compression methods
	body = append(body, extensionsField...)

	handshake := append([]byte{0x01}, u24(len(body))...)
	handshake = append(handshake, body...)

	record := []byte{0x16, 0x03, 0x01}
	record = append(record, u16(len(handshake))...)
	record = append(record, handshake...)
	return record
}

func u16(n int) []byte { return []byte{byte(n >> 8), byte(n)} }
func u24(n int) []byte { return []byte{byte(n >> 16), byte(n >> 8), byte(n)} }

func TestDetectTLSExtractsSNI(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	hello := buildClientHello("example.internal")
	go client.Write(hello)

	pc := iostream.NewPeekConn(server, 512)
	res, err := detect.DetectTLS(context.Background(), pc, time.Second)
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Equal(t, "example.internal", res.SNI)
}

func TestDetectTLSRejectsNonTLS(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go client.Write([]byte("GET / HTTP/1.1\r\n\r\n"))

	pc := iostream.NewPeekConn(server, 512)
	res, err := detect.DetectTLS(context.Background(), pc, time.Second)
	require.NoError(t, err)
	require.False(t, res.Matched)
}

func TestDetectTLSTimesOutOnSilence(t *testing.T) {
	_, server := net.Pipe()
	defer server.Close()

	pc := iostream.NewPeekConn(server, 512)
	_, err := detect.DetectTLS(context.Background(), pc, 10*time.Millisecond)
	require.Error(t, err)
}

func TestDetectHTTP1RequestLine(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go client.Write([]byte("GET /healthz HTTP/1.1\r\nHost: x\r\n\r\n"))

	pc := iostream.NewPeekConn(server, 512)
	res, err := detect.DetectHTTP(context.Background(), pc, time.Second)
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Equal(t, detect.HTTP1, res.Kind)
}

func TestDetectHTTP2Preface(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go client.Write([]byte(http2.ClientPreface))

	pc := iostream.NewPeekConn(server, 512)
	res, err := detect.DetectHTTP(context.Background(), pc, time.Second)
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Equal(t, detect.HTTP2, res.Kind)
}

func TestDetectHTTPRejectsGarbage(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go client.Write([]byte{0x16, 0x03, 0x01, 0x00, 0x10})

	pc := iostream.NewPeekConn(server, 512)
	res, err := detect.DetectHTTP(context.Background(), pc, time.Second)
	require.NoError(t, err)
	require.False(t, res.Matched)
}
