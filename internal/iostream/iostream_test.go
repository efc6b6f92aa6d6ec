package iostream_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/linkerd-sidecar/meshcore/internal/iostream"
)

func TestPeekConnGrowsAcrossRetries(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte("hello"))
		client.Write([]byte(" world"))
	}()

	pc := iostream.NewPeekConn(server, 4)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := pc.Peek(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(first))

	second, err := pc.Peek(ctx, 11)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(second))
}

func TestPeekConnTimesOut(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	pc := iostream.NewPeekConn(server, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := pc.Peek(ctx, 5)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPrefixReplaysAllPeekedBytesThenPassesThrough(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte("abcdef"))
		client.Write([]byte("ghijkl"))
	}()

	pc := iostream.NewPeekConn(server, 8)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := pc.Peek(ctx, 6)
	require.NoError(t, err)

	downstream := pc.Prefix()

	buf := make([]byte, 12)
	n, err := io.ReadFull(downstream, buf)
	require.NoError(t, err)
	require.Equal(t, "abcdefghijkl", string(buf[:n]))
}
