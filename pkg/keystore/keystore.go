// Package keystore persists the static X25519 identity of a betanet node.
//
// The identity is a small YAML document:
//
//	version: 1
//	protocol: Noise_XK_25519_ChaChaPoly_SHA256
//	private_key: 6f1c...
//	public_key: 3a9e...
//	created_at: 2026-01-02T15:04:05Z
//
// The file is written with mode 0600. The public key is shared out of band
// with initiators; the private key never leaves the file.
package keystore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ravendevteam/betanet-go/pkg/handshake"
)

// FileVersion is the current identity file format version.
const FileVersion = 1

// Keystore errors.
var (
	ErrNotFound         = errors.New("identity file not found")
	ErrVersion          = errors.New("unsupported identity file version")
	ErrProtocolMismatch = errors.New("identity was created for a different protocol")
	ErrKeyMismatch      = errors.New("public key does not match private key")
)

// Identity is a static keypair with its metadata.
type Identity struct {
	Keypair   handshake.Keypair
	CreatedAt time.Time
}

// PublicKey returns the public half of the identity.
func (id *Identity) PublicKey() handshake.PublicKey {
	return id.Keypair.Public
}

// identityFile is the on-disk form of an Identity.
type identityFile struct {
	Version    int       `yaml:"version"`
	Protocol   string    `yaml:"protocol"`
	PrivateKey string    `yaml:"private_key"`
	PublicKey  string    `yaml:"public_key"`
	CreatedAt  time.Time `yaml:"created_at"`
}

// Generate creates a new random identity.
func Generate() (*Identity, error) {
	kp, err := handshake.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	return &Identity{Keypair: kp, CreatedAt: time.Now().UTC().Truncate(time.Second)}, nil
}

// Store reads and writes an identity file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store for the identity file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the identity file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes id to disk with mode 0600, replacing any existing file.
func (s *Store) Save(id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := id.Keypair.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	createdAt := id.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC().Truncate(time.Second)
	}

	data, err := yaml.Marshal(identityFile{
		Version:    FileVersion,
		Protocol:   handshake.ProtocolName,
		PrivateKey: hex.EncodeToString(id.Keypair.Private[:]),
		PublicKey:  id.Keypair.Public.String(),
		CreatedAt:  createdAt,
	})
	if err != nil {
		return err
	}

	// Write a sibling file and rename it into place.
	tmp, err := os.CreateTemp(dir, ".identity-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load reads the identity from disk. A missing file returns ErrNotFound.
func (s *Store) Load() (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
	}
	if err != nil {
		return nil, err
	}

	var f identityFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if f.Version != FileVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, f.Version)
	}
	if f.Protocol != "" && f.Protocol != handshake.ProtocolName {
		return nil, fmt.Errorf("%w: %s", ErrProtocolMismatch, f.Protocol)
	}

	kp, err := handshake.ParsePrivateKey(f.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private_key: %w", err)
	}
	if f.PublicKey != "" {
		pub, err := handshake.ParsePublicKey(f.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("public_key: %w", err)
		}
		if !pub.Equal(kp.Public) {
			return nil, ErrKeyMismatch
		}
	}

	return &Identity{Keypair: kp, CreatedAt: f.CreatedAt}, nil
}

// LoadOrGenerate loads the identity, creating and saving a new one if the
// file does not exist. created reports whether a new identity was made.
func (s *Store) LoadOrGenerate() (id *Identity, created bool, err error) {
	id, err = s.Load()
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	id, err = Generate()
	if err != nil {
		return nil, false, err
	}
	if err := s.Save(id); err != nil {
		return nil, false, err
	}
	return id, true, nil
}
