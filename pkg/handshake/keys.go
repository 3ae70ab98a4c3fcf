package handshake

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/flynn/noise"
	"golang.org/x/crypto/curve25519"
)

// KeySize is the size of X25519 private and public keys in bytes.
const KeySize = 32

// Key errors.
var (
	ErrInvalidKey     = errors.New("invalid key")
	ErrKeypairInvalid = errors.New("public key does not match private key")
)

// PublicKey is an X25519 public key.
type PublicKey [KeySize]byte

// String returns the key as lowercase hex, the form exchanged out of band.
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether the key is all zeros.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// Equal compares two keys in constant time.
func (k PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// Keypair is a static X25519 identity.
type Keypair struct {
	Private [KeySize]byte
	Public  PublicKey
}

// GenerateKeypair creates a new random keypair.
func GenerateKeypair() (Keypair, error) {
	return generateKeypair(rand.Reader)
}

func generateKeypair(random io.Reader) (Keypair, error) {
	dh, err := noise.DH25519.GenerateKeypair(random)
	if err != nil {
		return Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}
	var kp Keypair
	copy(kp.Private[:], dh.Private)
	copy(kp.Public[:], dh.Public)
	return kp, nil
}

// KeypairFromPrivate derives the public half of priv.
func KeypairFromPrivate(priv []byte) (Keypair, error) {
	if len(priv) != KeySize {
		return Keypair{}, fmt.Errorf("%w: private key is %d bytes, want %d", ErrInvalidKey, len(priv), KeySize)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return Keypair{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	var kp Keypair
	copy(kp.Private[:], priv)
	copy(kp.Public[:], pub)
	return kp, nil
}

// Validate checks that Public is derived from Private.
func (kp Keypair) Validate() error {
	derived, err := KeypairFromPrivate(kp.Private[:])
	if err != nil {
		return err
	}
	if !derived.Public.Equal(kp.Public) {
		return ErrKeypairInvalid
	}
	return nil
}

func (kp Keypair) dhKey() noise.DHKey {
	return noise.DHKey{
		Private: append([]byte(nil), kp.Private[:]...),
		Public:  append([]byte(nil), kp.Public[:]...),
	}
}

// ParsePublicKey parses a hex encoded public key. Surrounding whitespace is
// ignored.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, err := decodeHexKey(s)
	if err != nil {
		return PublicKey{}, err
	}
	var k PublicKey
	copy(k[:], raw)
	if k.IsZero() {
		return PublicKey{}, fmt.Errorf("%w: all-zero public key", ErrInvalidKey)
	}
	return k, nil
}

// ParsePrivateKey parses a hex encoded private key and derives its keypair.
func ParsePrivateKey(s string) (Keypair, error) {
	raw, err := decodeHexKey(s)
	if err != nil {
		return Keypair{}, err
	}
	return KeypairFromPrivate(raw)
}

func decodeHexKey(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidKey, len(raw), KeySize)
	}
	return raw, nil
}
