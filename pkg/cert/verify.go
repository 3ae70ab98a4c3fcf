package cert

import (
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Verification errors.
var (
	ErrCertExpired       = errors.New("certificate has expired")
	ErrCertNotYetValid   = errors.New("certificate is not yet valid")
	ErrInvalidCert       = errors.New("invalid certificate")
	ErrInvalidPin        = errors.New("invalid certificate fingerprint")
	ErrFingerprintDiffer = errors.New("certificate fingerprint mismatch")
)

// Fingerprint returns the lowercase hex SHA-256 digest of a DER certificate.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// ParseFingerprint normalizes a SHA-256 fingerprint. Colon separators and
// upper case, as printed by openssl, are accepted.
func ParseFingerprint(s string) (string, error) {
	clean := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), ":", ""))
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPin, err)
	}
	if len(raw) != sha256.Size {
		return "", fmt.Errorf("%w: %d bytes, want %d", ErrInvalidPin, len(raw), sha256.Size)
	}
	return clean, nil
}

// VerifyValidity checks the certificate's validity window against now.
func VerifyValidity(cert *x509.Certificate, now time.Time) error {
	if cert == nil {
		return ErrInvalidCert
	}
	if now.Before(cert.NotBefore) {
		return ErrCertNotYetValid
	}
	if now.After(cert.NotAfter) {
		return ErrCertExpired
	}
	return nil
}

// PinVerifier creates a verification callback for TLS connections that
// accepts exactly one leaf certificate, identified by its SHA-256
// fingerprint. Chain building is skipped; the validity window is still
// enforced.
func PinVerifier(pin string) (func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error, error) {
	want, err := ParseFingerprint(pin)
	if err != nil {
		return nil, err
	}

	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("%w: no peer certificate", ErrInvalidCert)
		}

		got := Fingerprint(rawCerts[0])
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			return fmt.Errorf("%w: got %s", ErrFingerprintDiffer, got)
		}

		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCert, err)
		}
		return VerifyValidity(leaf, time.Now())
	}, nil
}
