package handshake

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/flynn/noise"
	"github.com/ravendevteam/betanet-go/pkg/fault"
	"github.com/ravendevteam/betanet-go/pkg/log"
)

// MessageCount is the number of messages in the XK pattern.
const MessageCount = 3

// Handshake messages carry no payload, so each has a fixed length:
// message 1 is e, es; message 2 is e, ee; message 3 is s, se.
const (
	tagSize = 16

	Message1Size = KeySize + tagSize
	Message2Size = KeySize + tagSize
	Message3Size = KeySize + tagSize + tagSize

	// MaxMessageSize is the longest handshake message on the wire.
	MaxMessageSize = Message3Size
)

var messageSizes = [MessageCount]int{Message1Size, Message2Size, Message3Size}

// cipherSuite is the fixed, non-negotiated algorithm suite.
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// ProtocolName identifies the pattern and suite. Both peers must agree on it
// out of band.
var ProtocolName = "Noise_" + noise.HandshakeXK.Name + "_" + string(cipherSuite.Name())

// Handshake errors.
var (
	ErrInvalidRole       = errors.New("invalid role")
	ErrNoRemoteStatic    = errors.New("initiator requires the responder's static public key")
	ErrNotStarted        = errors.New("handshake not started")
	ErrAlreadyStarted    = errors.New("handshake already started")
	ErrHandshakeFailed   = errors.New("handshake has failed")
	ErrHandshakeComplete = errors.New("handshake already complete")
	ErrNotComplete       = errors.New("handshake not complete")
	ErrUnexpectedMessage = errors.New("unexpected handshake message")
	ErrNotOurTurn        = errors.New("not our turn to send")
	ErrCipherStatesTaken = errors.New("cipher states already taken")
)

// Config configures one handshake attempt.
type Config struct {
	// Role selects initiator or responder.
	Role Role

	// StaticKeypair is this side's long-term identity.
	StaticKeypair Keypair

	// RemoteStatic is the responder's static public key. Required for the
	// initiator and ignored for the responder.
	RemoteStatic PublicKey

	// Random supplies ephemeral key material (default: crypto/rand).
	Random io.Reader

	// Recorder receives state transitions (optional).
	Recorder log.Recorder
}

// Handshake is the state machine for one XK exchange. It is not safe for
// concurrent use.
type Handshake struct {
	config Config
	state  State
	n      int // messages sent or received

	hs *noise.HandshakeState

	peerStatic PublicKey
	binding    []byte
	sendCS     *noise.CipherState
	recvCS     *noise.CipherState
	taken      bool
	failure    error
}

// New validates config and returns an uninitialized Handshake.
func New(config Config) (*Handshake, error) {
	const op = "new handshake"

	if config.Role != RoleInitiator && config.Role != RoleResponder {
		return nil, fault.Errorf(fault.KindHandshake, op, "%w: %d", ErrInvalidRole, config.Role)
	}
	if err := config.StaticKeypair.Validate(); err != nil {
		return nil, fault.Errorf(fault.KindHandshake, op, "static keypair: %w", err)
	}
	if config.Role == RoleInitiator && config.RemoteStatic.IsZero() {
		return nil, fault.New(fault.KindHandshake, op, ErrNoRemoteStatic)
	}
	if config.Random == nil {
		config.Random = rand.Reader
	}

	return &Handshake{config: config}, nil
}

// Start generates ephemeral keys and builds the Noise state.
func (h *Handshake) Start() error {
	const op = "start handshake"

	if h.state != StateUninitialized {
		return fault.New(fault.KindProtocolViolation, op, ErrAlreadyStarted)
	}

	ephemeral, err := cipherSuite.GenerateKeypair(h.config.Random)
	if err != nil {
		return h.fail(fault.Errorf(fault.KindHandshake, op, "generate ephemeral key: %w", err))
	}

	noiseConfig := noise.Config{
		CipherSuite:      cipherSuite,
		Random:           h.config.Random,
		Pattern:          noise.HandshakeXK,
		Initiator:        h.config.Role == RoleInitiator,
		StaticKeypair:    h.config.StaticKeypair.dhKey(),
		EphemeralKeypair: ephemeral,
	}
	if h.config.Role == RoleInitiator {
		noiseConfig.PeerStatic = append([]byte(nil), h.config.RemoteStatic[:]...)
	}

	hs, err := noise.NewHandshakeState(noiseConfig)
	if err != nil {
		return h.fail(fault.New(fault.KindHandshake, op, err))
	}

	h.hs = hs
	h.transition(StateStarted, "ephemeral keys generated")
	return nil
}

// WriteMessage produces the next outgoing handshake message. Messages are
// bare Noise XK messages with empty payloads.
func (h *Handshake) WriteMessage() ([]byte, error) {
	const op = "write handshake message"

	if err := h.checkActive(op); err != nil {
		return nil, err
	}
	if !h.ourTurn() {
		return nil, h.fail(fault.Errorf(fault.KindProtocolViolation, op, "%w: expecting message %d from peer", ErrNotOurTurn, h.n+1))
	}

	out, cs1, cs2, err := h.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, h.fail(fault.Errorf(fault.KindHandshake, op, "message %d: %w", h.n+1, err))
	}

	h.advance(cs1, cs2, fmt.Sprintf("message %d sent", h.n+1))
	return out, nil
}

// ReadMessage processes the next incoming handshake message. A message of
// the wrong length, one carrying a payload, or one arriving when this side
// should send is a protocol violation. A message failing Diffie-Hellman or
// AEAD checks is a handshake error. Either way the handshake fails
// permanently.
func (h *Handshake) ReadMessage(msg []byte) error {
	const op = "read handshake message"

	if err := h.checkActive(op); err != nil {
		return err
	}
	if h.ourTurn() {
		return h.fail(fault.Errorf(fault.KindProtocolViolation, op, "%w: message %d is ours to send", ErrUnexpectedMessage, h.n+1))
	}
	if want := messageSizes[h.n]; len(msg) != want {
		return h.fail(fault.Errorf(fault.KindProtocolViolation, op, "%w: message %d is %d bytes, want %d", ErrUnexpectedMessage, h.n+1, len(msg), want))
	}

	payload, cs1, cs2, err := h.hs.ReadMessage(nil, msg)
	if err != nil {
		return h.fail(fault.Errorf(fault.KindHandshake, op, "message %d: %w", h.n+1, err))
	}
	if len(payload) != 0 {
		return h.fail(fault.Errorf(fault.KindProtocolViolation, op, "%w: message %d carries a %d-byte payload", ErrUnexpectedMessage, h.n+1, len(payload)))
	}

	h.advance(cs1, cs2, fmt.Sprintf("message %d received", h.n+1))
	return nil
}

// Complete reports whether all three messages have been processed.
func (h *Handshake) Complete() bool {
	return h.state == StateCompleted
}

// State returns the current state.
func (h *Handshake) State() State {
	return h.state
}

// MessageIndex returns the number of messages sent or received so far.
func (h *Handshake) MessageIndex() int {
	return h.n
}

// Role returns the configured role.
func (h *Handshake) Role() Role {
	return h.config.Role
}

// Err returns the error that failed the handshake, if any.
func (h *Handshake) Err() error {
	return h.failure
}

// PeerStatic returns the remote static public key. For the initiator it is
// the configured responder key. For the responder it is known only after
// completion; before that ok is false.
func (h *Handshake) PeerStatic() (key PublicKey, ok bool) {
	if h.config.Role == RoleInitiator {
		return h.config.RemoteStatic, true
	}
	if h.state != StateCompleted {
		return PublicKey{}, false
	}
	return h.peerStatic, true
}

// ChannelBinding returns the final handshake hash, which is unique to this
// exchange and identical on both sides. It is nil before completion.
func (h *Handshake) ChannelBinding() []byte {
	if h.state != StateCompleted {
		return nil
	}
	return append([]byte(nil), h.binding...)
}

// CipherStates hands over the directional cipher states. They can be taken
// once; the Handshake keeps no reference afterwards.
func (h *Handshake) CipherStates() (send, recv *noise.CipherState, err error) {
	const op = "cipher states"

	if h.state != StateCompleted {
		return nil, nil, fault.Errorf(fault.KindProtocolViolation, op, "%w: state %s", ErrNotComplete, h.state)
	}
	if h.taken {
		return nil, nil, fault.New(fault.KindProtocolViolation, op, ErrCipherStatesTaken)
	}

	send, recv = h.sendCS, h.recvCS
	h.sendCS, h.recvCS = nil, nil
	h.taken = true
	return send, recv, nil
}

// ourTurn reports whether the next message is written by this side. The
// initiator writes messages 1 and 3, the responder message 2.
func (h *Handshake) ourTurn() bool {
	initiatorTurn := h.n%2 == 0
	return initiatorTurn == (h.config.Role == RoleInitiator)
}

func (h *Handshake) checkActive(op string) error {
	switch h.state {
	case StateUninitialized:
		return fault.New(fault.KindProtocolViolation, op, ErrNotStarted)
	case StateCompleted:
		return fault.New(fault.KindProtocolViolation, op, ErrHandshakeComplete)
	case StateFailed:
		return fault.Errorf(fault.KindProtocolViolation, op, "%w: %v", ErrHandshakeFailed, h.failure)
	}
	return nil
}

// advance records a processed message. After the third message flynn/noise
// returns the split cipher states: cs1 protects initiator to responder
// traffic, cs2 the reverse.
func (h *Handshake) advance(cs1, cs2 *noise.CipherState, reason string) {
	h.n++
	if h.n < MessageCount {
		h.transition(StateAwaitingPeer, reason)
		return
	}

	if h.config.Role == RoleInitiator {
		h.sendCS, h.recvCS = cs1, cs2
	} else {
		h.sendCS, h.recvCS = cs2, cs1
		copy(h.peerStatic[:], h.hs.PeerStatic())
	}
	h.binding = h.hs.ChannelBinding()
	h.hs = nil
	h.transition(StateCompleted, reason)
}

func (h *Handshake) fail(err error) error {
	h.failure = err
	h.hs = nil
	h.config.Recorder.Error(log.LayerHandshake, err, fault.KindOf(err).String(), fmt.Sprintf("message %d", h.n+1))
	h.transition(StateFailed, err.Error())
	return err
}

func (h *Handshake) transition(to State, reason string) {
	from := h.state
	h.state = to
	h.config.Recorder.State(log.LayerHandshake, log.StateEntityHandshake, from.String(), to.String(), reason)
}
