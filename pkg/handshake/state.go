package handshake

import "github.com/ravendevteam/betanet-go/pkg/log"

// Role is the side of the exchange, fixed for the lifetime of a connection.
type Role uint8

const (
	// RoleInitiator connects and already knows the responder's static key.
	RoleInitiator Role = iota + 1

	// RoleResponder accepts and learns the initiator's key during the
	// exchange.
	RoleResponder
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// LogRole maps the role to its protocol log value.
func (r Role) LogRole() log.Role {
	if r == RoleResponder {
		return log.RoleResponder
	}
	return log.RoleInitiator
}

// State is the lifecycle state of a Handshake.
type State uint8

const (
	// StateUninitialized is a Handshake that has not been started.
	StateUninitialized State = iota

	// StateStarted has ephemeral keys but has not exchanged a message.
	StateStarted

	// StateAwaitingPeer has exchanged at least one message.
	StateAwaitingPeer

	// StateCompleted has processed all three messages.
	StateCompleted

	// StateFailed is terminal.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateStarted:
		return "STARTED"
	case StateAwaitingPeer:
		return "AWAITING_PEER"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
