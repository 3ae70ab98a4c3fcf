package cert

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ravendevteam/betanet-go/pkg/fault"
)

// File names used inside a certificate directory.
const (
	CertFileName = "cert.pem"
	KeyFileName  = "key.pem"
)

// ErrCertNotFound is returned when a directory holds no tunnel certificate.
var ErrCertNotFound = errors.New("certificate not found")

// FileStore keeps one tunnel certificate as a cert.pem/key.pem pair in a
// directory.
type FileStore struct {
	baseDir string
}

// NewFileStore creates a file store rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

// CertPath returns the path of the certificate file.
func (s *FileStore) CertPath() string {
	return filepath.Join(s.baseDir, CertFileName)
}

// KeyPath returns the path of the private key file.
func (s *FileStore) KeyPath() string {
	return filepath.Join(s.baseDir, KeyFileName)
}

// Exists reports whether both files are present.
func (s *FileStore) Exists() bool {
	for _, p := range []string{s.CertPath(), s.KeyPath()} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// Save writes tc to the store, creating the directory if needed.
// The key file is written with mode 0600.
func (s *FileStore) Save(tc *TunnelCert) error {
	if tc == nil || tc.Certificate == nil || tc.PrivateKey == nil {
		return ErrInvalidCert
	}
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return err
	}
	if err := WriteCertFile(s.CertPath(), tc.Certificate); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	if err := WriteKeyFile(s.KeyPath(), tc.PrivateKey); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	return nil
}

// Load reads the tunnel certificate from the store.
func (s *FileStore) Load() (*TunnelCert, error) {
	if !s.Exists() {
		return nil, ErrCertNotFound
	}
	return LoadTunnelCert(s.CertPath(), s.KeyPath())
}

// LoadTunnelCert reads a certificate and its private key from PEM files and
// checks that they belong together.
func LoadTunnelCert(certFile, keyFile string) (*TunnelCert, error) {
	certificate, err := ReadCertFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read certificate %s: %w", certFile, err)
	}
	key, err := ReadKeyFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", keyFile, err)
	}
	if !publicKeysMatch(certificate.PublicKey, key) {
		return nil, fmt.Errorf("%w: %s does not match %s", ErrInvalidKey, keyFile, certFile)
	}
	return &TunnelCert{Certificate: certificate, PrivateKey: key}, nil
}

// LoadTLSCertificate loads the responder's tunnel certificate for use in a
// TLS server configuration. Unlike LoadTunnelCert it accepts any key type
// crypto/tls supports. Any failure is a transport security error.
func LoadTLSCertificate(certFile, keyFile string) (tls.Certificate, error) {
	certificate, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fault.New(fault.KindTransportSecurity, "load certificate", err)
	}
	return certificate, nil
}
