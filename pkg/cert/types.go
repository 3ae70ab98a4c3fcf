package cert

import (
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"time"
)

// Certificate validity periods.
const (
	// DefaultTunnelCertValidity is the validity of generated tunnel certificates.
	DefaultTunnelCertValidity = 365 * 24 * time.Hour // 1 year

	// RenewalWindow is how long before expiry a certificate is reported as
	// needing renewal.
	RenewalWindow = 30 * 24 * time.Hour // 30 days
)

// DefaultCommonName is the subject common name of generated tunnel certificates.
const DefaultCommonName = "betanet responder"

// TunnelCert is the responder's tunnel certificate and its private key.
//
// The certificate only keys the outer TLS layer. Peer authentication is the
// job of the inner Noise handshake, so the subject carries no identity.
type TunnelCert struct {
	// Certificate is the X.509 leaf certificate.
	Certificate *x509.Certificate

	// PrivateKey is the ECDSA P-256 key matching Certificate.
	PrivateKey *ecdsa.PrivateKey
}

// TLSCertificate converts the tunnel certificate to a tls.Certificate.
func (tc *TunnelCert) TLSCertificate() tls.Certificate {
	if tc == nil || tc.Certificate == nil || tc.PrivateKey == nil {
		return tls.Certificate{}
	}
	return tls.Certificate{
		Certificate: [][]byte{tc.Certificate.Raw},
		PrivateKey:  tc.PrivateKey,
		Leaf:        tc.Certificate,
	}
}

// Fingerprint returns the SHA-256 fingerprint of the certificate.
func (tc *TunnelCert) Fingerprint() string {
	if tc == nil || tc.Certificate == nil {
		return ""
	}
	return Fingerprint(tc.Certificate.Raw)
}

// ExpiresAt returns when this certificate expires.
func (tc *TunnelCert) ExpiresAt() time.Time {
	if tc == nil || tc.Certificate == nil {
		return time.Time{}
	}
	return tc.Certificate.NotAfter
}

// NeedsRenewal returns true if the certificate should be regenerated.
func (tc *TunnelCert) NeedsRenewal() bool {
	if tc == nil || tc.Certificate == nil {
		return true
	}
	return time.Now().Add(RenewalWindow).After(tc.Certificate.NotAfter)
}

// IsExpired returns true if the certificate has expired.
func (tc *TunnelCert) IsExpired() bool {
	if tc == nil || tc.Certificate == nil {
		return true
	}
	return time.Now().After(tc.Certificate.NotAfter)
}
