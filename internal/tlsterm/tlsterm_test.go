package tlsterm_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/linkerd-sidecar/meshcore/internal/detect"
	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/tlsterm"
)

func selfSignedCert(t *testing.T, dnsName string) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: dnsName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{dnsName},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestTerminateEstablishesWhenSNIMatchesLocalIdentity(t *testing.T) {
	serverCert := selfSignedCert(t, "proxy.local")
	clientCert := selfSignedCert(t, "caller.default.mesh.local")

	clientTLSCfg := &tls.Config{
		Certificates:       []tls.Certificate{clientCert},
		InsecureSkipVerify: true,
		ServerName:         "proxy.local",
	}
	serverCfg := tlsterm.ServerConfig{
		LocalIdentity: "proxy.local",
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{serverCert},
			ClientAuth:   tls.RequestClientCert,
		},
	}

	rawClient, rawServer := net.Pipe()
	defer rawClient.Close()

	done := make(chan error, 1)
	go func() {
		tlsClient := tls.Client(rawClient, clientTLSCfg)
		done <- tlsClient.HandshakeContext(context.Background())
	}()

	det := detect.TLSResult{Matched: true, SNI: "proxy.local"}
	outcome, err := tlsterm.Terminate(context.Background(), rawServer, det, false, serverCfg)
	require.NoError(t, err)
	require.NoError(t, <-done)

	require.Equal(t, tlsterm.Established, outcome.Kind)
	require.True(t, outcome.ClientIDKnown)
	require.Equal(t, "caller.default.mesh.local", string(outcome.ClientID))
}

func TestTerminatePassthruWhenSNIDiffers(t *testing.T) {
	serverCfg := tlsterm.ServerConfig{LocalIdentity: "proxy.local"}
	conn, _ := net.Pipe()
	defer conn.Close()

	det := detect.TLSResult{Matched: true, SNI: "other.local"}
	outcome, err := tlsterm.Terminate(context.Background(), conn, det, false, serverCfg)
	require.NoError(t, err)
	require.Equal(t, tlsterm.Passthru, outcome.Kind)
	require.Equal(t, "other.local", outcome.SNI)
}

func TestTerminateDisabledWhenNoClientHello(t *testing.T) {
	serverCfg := tlsterm.ServerConfig{LocalIdentity: "proxy.local"}
	conn, _ := net.Pipe()
	defer conn.Close()

	outcome, err := tlsterm.Terminate(context.Background(), conn, detect.TLSResult{}, false, serverCfg)
	require.NoError(t, err)
	require.Equal(t, tlsterm.Disabled, outcome.Kind)
	require.Equal(t, tlsterm.ReasonNoClientHello, outcome.Reason)
}

func TestTerminateRequiresIdentityWhenConfigured(t *testing.T) {
	serverCert := selfSignedCert(t, "proxy.local")
	serverCfg := tlsterm.ServerConfig{
		LocalIdentity: "proxy.local",
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{serverCert},
			ClientAuth:   tls.NoClientCert,
		},
	}

	rawClient, rawServer := net.Pipe()
	defer rawClient.Close()

	go func() {
		tlsClient := tls.Client(rawClient, &tls.Config{InsecureSkipVerify: true, ServerName: "proxy.local"})
		tlsClient.HandshakeContext(context.Background())
	}()

	det := detect.TLSResult{Matched: true, SNI: "proxy.local"}
	_, err := tlsterm.Terminate(context.Background(), rawServer, det, true, serverCfg)
	require.Error(t, err)
	require.Equal(t, errkind.IdentityRequired, errkind.KindOf(err))
}
