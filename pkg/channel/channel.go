// Package channel protects application messages after the handshake.
//
// Each message is sealed with ChaCha20-Poly1305 under the sender's key and a
// counter nonce, then written as exactly one frame. Nothing else is sent: the
// nonce is implicit, so frames must be delivered in order and without loss,
// which the reliable stream underneath guarantees.
package channel

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ravendevteam/betanet-go/pkg/fault"
	"github.com/ravendevteam/betanet-go/pkg/handshake"
	"github.com/ravendevteam/betanet-go/pkg/log"
	"github.com/ravendevteam/betanet-go/pkg/transport"
)

// Overhead is the authentication tag size added to every message.
const Overhead = chacha20poly1305.Overhead

// MaxPlaintextSize is the largest plaintext that fits a default-size frame.
const MaxPlaintextSize = transport.DefaultMaxMessageSize - Overhead

// Channel errors.
var (
	ErrHandshakeIncomplete = errors.New("handshake not complete")
	ErrPlaintextTooLarge   = errors.New("plaintext too large")
	ErrFrameLimitTooSmall  = errors.New("frame size limit too small")
)

// MinFrameSize is the smallest framer limit a channel accepts. It matches
// the largest handshake message, so any framer that carried the handshake
// qualifies.
const MinFrameSize = handshake.MaxMessageSize

// FrameReadWriter carries one ciphertext per frame.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

// sizer is implemented by framers with a configurable limit.
type sizer interface {
	MaxMessageSize() uint32
}

// Channel is the encrypted message layer of one connection.
//
// Send and Receive may run concurrently with each other since they use
// independent cipher states, but concurrent Sends (or Receives) must be
// serialized by the caller.
type Channel struct {
	rw           FrameReadWriter
	send         *CipherState
	recv         *CipherState
	maxPlaintext int
	rec          log.Recorder
}

// New builds a channel from a completed handshake, taking its cipher states.
// An incomplete handshake is a protocol violation.
func New(rw FrameReadWriter, h *handshake.Handshake) (*Channel, error) {
	const op = "new channel"

	if h == nil || !h.Complete() {
		return nil, fault.New(fault.KindProtocolViolation, op, ErrHandshakeIncomplete)
	}
	maxPlaintext := MaxPlaintextSize
	if s, ok := rw.(sizer); ok {
		limit := int(s.MaxMessageSize())
		if limit < MinFrameSize {
			return nil, fault.Errorf(fault.KindFraming, op, "%w: %d bytes (min %d)", ErrFrameLimitTooSmall, limit, MinFrameSize)
		}
		maxPlaintext = limit - Overhead
	}

	send, recv, err := h.CipherStates()
	if err != nil {
		return nil, err
	}

	return &Channel{
		rw:           rw,
		send:         NewCipherState(send),
		recv:         NewCipherState(recv),
		maxPlaintext: maxPlaintext,
	}, nil
}

// SetRecorder sets the protocol recorder for ciphertext frames and failures.
func (c *Channel) SetRecorder(rec log.Recorder) {
	c.rec = rec
}

// MaxPlaintextSize returns the largest plaintext Send accepts.
func (c *Channel) MaxPlaintextSize() int {
	return c.maxPlaintext
}

// Encrypt seals plaintext with the send key and the next nonce.
func (c *Channel) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) > c.maxPlaintext {
		return nil, fault.Errorf(fault.KindFraming, "encrypt",
			"%w: %d bytes (max %d)", ErrPlaintextTooLarge, len(plaintext), c.maxPlaintext)
	}
	ciphertext, err := c.send.Encrypt(plaintext)
	if err != nil {
		c.recordError(err, "encrypt")
		return nil, err
	}
	return ciphertext, nil
}

// Decrypt opens ciphertext with the receive key and the expected nonce.
func (c *Channel) Decrypt(ciphertext []byte) ([]byte, error) {
	wasPoisoned := c.recv.Poisoned()
	plaintext, err := c.recv.Decrypt(ciphertext)
	if err != nil {
		c.recordError(err, "decrypt")
		if !wasPoisoned {
			c.rec.State(log.LayerChannel, log.StateEntityChannel, "OPEN", "POISONED", err.Error())
		}
		return nil, err
	}
	return plaintext, nil
}

// Send encrypts plaintext and writes it as one frame.
func (c *Channel) Send(plaintext []byte) error {
	ciphertext, err := c.Encrypt(plaintext)
	if err != nil {
		return err
	}
	if err := c.rw.WriteFrame(ciphertext); err != nil {
		return fault.Wrap(fault.KindConnection, "send", err)
	}
	c.rec.Frame(log.LayerChannel, log.DirectionOut, 0, ciphertext)
	return nil
}

// Receive reads one frame and decrypts it.
func (c *Channel) Receive() ([]byte, error) {
	ciphertext, err := c.rw.ReadFrame()
	if err != nil {
		return nil, fault.Wrap(fault.KindConnection, "receive", err)
	}
	c.rec.Frame(log.LayerChannel, log.DirectionIn, 0, ciphertext)
	return c.Decrypt(ciphertext)
}

// Nonces returns the next send and receive nonces.
func (c *Channel) Nonces() (send, recv uint64) {
	return c.send.Nonce(), c.recv.Nonce()
}

func (c *Channel) recordError(err error, op string) {
	c.rec.Error(log.LayerChannel, err, fault.KindOf(err).String(), fmt.Sprintf("%s nonce send=%d recv=%d", op, c.send.Nonce(), c.recv.Nonce()))
}
