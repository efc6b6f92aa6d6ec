// Package identity holds the mesh client identity type and the DNS-SAN
// extraction rule used to derive it from a peer certificate.
//
// Grounded on original_source/linkerd/tls/src/server/handshake.rs, which
// takes the certificate's DNS SANs, skips wildcard entries, and uses the
// first remaining name as the peer's identity.
package identity

import "crypto/x509"

// ClientID is the mesh identity of a peer, derived from the DNS SAN of
// its client certificate (e.g. "web.default.serviceaccount.identity.
// linkerd.cluster.local" in spirit, though this module is agnostic to
// the trust domain's exact shape).
type ClientID string

// FromCertificate returns the peer's ClientID by taking the first
// non-wildcard DNS SAN on cert. It returns ("", false) if cert carries no
// usable SAN, in which case the caller treats the peer as anonymous.
func FromCertificate(cert *x509.Certificate) (ClientID, bool) {
	for _, name := range cert.DNSNames {
		if len(name) == 0 || name[0] == '*' {
			continue
		}
		return ClientID(name), true
	}
	return "", false
}
