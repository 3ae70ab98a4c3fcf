package channel

import (
	"errors"

	"github.com/flynn/noise"
	"github.com/ravendevteam/betanet-go/pkg/fault"
)

// Cipher state errors.
var (
	ErrNonceExhausted = errors.New("nonce space exhausted, a new handshake is required")
	ErrPoisoned       = errors.New("cipher state unusable after a previous failure")
	ErrDecryptFailed  = errors.New("ciphertext failed authentication")
	ErrNoCipherState  = errors.New("nil cipher state")
)

// CipherState is one direction of the data phase: a key and a 64-bit
// counter nonce that advances after every successful operation.
//
// After any failure the state is poisoned and every later call returns
// ErrPoisoned. Recovery requires a new connection.
type CipherState struct {
	cs       *noise.CipherState
	poisoned error
}

// NewCipherState wraps a cipher state produced by a completed handshake.
func NewCipherState(cs *noise.CipherState) *CipherState {
	return &CipherState{cs: cs}
}

// Encrypt seals plaintext under the next nonce.
func (c *CipherState) Encrypt(plaintext []byte) ([]byte, error) {
	const op = "encrypt"

	if err := c.usable(op); err != nil {
		return nil, err
	}

	ciphertext, err := c.cs.Encrypt(nil, nil, plaintext)
	if err != nil {
		return nil, c.poison(op, err)
	}
	return ciphertext, nil
}

// Decrypt opens ciphertext with the expected nonce. On failure no plaintext
// is returned, the nonce does not advance and the state is poisoned.
func (c *CipherState) Decrypt(ciphertext []byte) ([]byte, error) {
	const op = "decrypt"

	if err := c.usable(op); err != nil {
		return nil, err
	}

	plaintext, err := c.cs.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, c.poison(op, err)
	}
	return plaintext, nil
}

// Nonce returns the nonce the next operation will use.
func (c *CipherState) Nonce() uint64 {
	if c.cs == nil {
		return 0
	}
	return c.cs.Nonce()
}

// Poisoned reports whether a previous failure made the state unusable.
func (c *CipherState) Poisoned() bool {
	return c.poisoned != nil
}

func (c *CipherState) usable(op string) error {
	if c.cs == nil {
		return fault.New(fault.KindProtocolViolation, op, ErrNoCipherState)
	}
	if c.poisoned != nil {
		return fault.Errorf(fault.KindOf(c.poisoned), op, "%w: %v", ErrPoisoned, c.poisoned)
	}
	return nil
}

func (c *CipherState) poison(op string, cause error) error {
	var err error
	if errors.Is(cause, noise.ErrMaxNonce) {
		err = fault.Errorf(fault.KindProtocolViolation, op, "%w at nonce %d", ErrNonceExhausted, c.cs.Nonce())
	} else {
		err = fault.Errorf(fault.KindAuthentication, op, "%w at nonce %d", ErrDecryptFailed, c.cs.Nonce())
	}
	c.poisoned = err
	return err
}
