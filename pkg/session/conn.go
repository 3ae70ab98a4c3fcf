package session

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ravendevteam/betanet-go/pkg/channel"
	"github.com/ravendevteam/betanet-go/pkg/connection"
	"github.com/ravendevteam/betanet-go/pkg/fault"
	"github.com/ravendevteam/betanet-go/pkg/handshake"
	"github.com/ravendevteam/betanet-go/pkg/log"
	"github.com/ravendevteam/betanet-go/pkg/transport"
)

// Session errors.
var (
	ErrClosed           = errors.New("session closed")
	ErrHandshakeTimeout = errors.New("handshake timed out")
)

// tunnel is the part of a transport connection a session needs.
// Implemented by transport.ClientConn and transport.ServerConn.
type tunnel interface {
	transport.Conn
	Recorder() log.Recorder
}

var (
	_ tunnel = (*transport.ClientConn)(nil)
	_ tunnel = (*transport.ServerConn)(nil)
)

// Conn is an established session: a tunnel whose handshake has completed
// and whose messages are encrypted.
//
// Send and Receive are each serialized internally and may be called from
// different goroutines.
type Conn struct {
	tunnel  tunnel
	channel *channel.Channel
	role    handshake.Role
	peer    handshake.PublicKey
	binding []byte
	rec     log.Recorder

	readTimeout time.Duration
	openedAt    time.Time

	sendMu sync.Mutex
	recvMu sync.Mutex

	mu        sync.Mutex
	failure   error
	closeOnce sync.Once
}

// Dial connects to a responder at address and runs the initiator handshake.
// config.RemoteStatic must hold the responder's static public key.
func Dial(ctx context.Context, address string, config Config) (*Conn, error) {
	config.applyDefaults()
	if config.RemoteStatic.IsZero() {
		return nil, fault.New(fault.KindHandshake, "dial", handshake.ErrNoRemoteStatic)
	}

	client, err := transport.NewClient(transport.ClientConfig{
		Tunnel:         config.Tunnel,
		TLS:            config.TLS,
		MaxMessageSize: config.MaxMessageSize,
		ConnectTimeout: config.ConnectTimeout,
		Logger:         config.Logger,
	})
	if err != nil {
		return nil, err
	}

	return connection.Retry(ctx, config.Retry, func(ctx context.Context, attempt int) (*Conn, error) {
		tc, err := client.Connect(ctx, address)
		if err != nil {
			return nil, err
		}
		return establish(ctx, tc, handshake.RoleInitiator, config)
	})
}

// Accept runs the responder handshake on a connection accepted by a
// transport.Listener or transport.Server. The connection is closed if the
// handshake fails.
func Accept(ctx context.Context, tc *transport.ServerConn, config Config) (*Conn, error) {
	config.applyDefaults()
	return establish(ctx, tc, handshake.RoleResponder, config)
}

func establish(ctx context.Context, tc tunnel, role handshake.Role, config Config) (*Conn, error) {
	rec := tc.Recorder()

	h, err := runHandshake(ctx, tc, role, config.handshakeConfig(rec), config.HandshakeTimeout)
	if err != nil {
		tc.Close()
		return nil, err
	}

	ch, err := channel.New(tc, h)
	if err != nil {
		tc.Close()
		return nil, err
	}
	ch.SetRecorder(rec)

	peer, _ := h.PeerStatic()
	rec.State(log.LayerChannel, log.StateEntityChannel, "", "OPEN", "peer "+peer.String())

	return &Conn{
		tunnel:      tc,
		channel:     ch,
		role:        role,
		peer:        peer,
		binding:     h.ChannelBinding(),
		rec:         rec,
		readTimeout: config.ReadTimeout,
		openedAt:    time.Now(),
	}, nil
}

// runHandshake bounds the exchange with a connection deadline and expires
// that deadline early if ctx is cancelled, so a blocked read returns.
func runHandshake(ctx context.Context, tc tunnel, role handshake.Role, hc handshake.Config, timeout time.Duration) (*handshake.Handshake, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := tc.SetDeadline(deadline); err != nil {
		return nil, fault.Wrap(fault.KindConnection, "handshake", err)
	}
	stop := context.AfterFunc(ctx, func() {
		tc.SetDeadline(time.Unix(1, 0))
	})

	var (
		h   *handshake.Handshake
		err error
	)
	if role == handshake.RoleInitiator {
		h, err = handshake.Initiate(ctx, tc, hc)
	} else {
		h, err = handshake.Respond(ctx, tc, hc)
	}

	if !stop() && err == nil {
		// ctx was cancelled after the last message; the deadline is spent.
		err = fault.New(fault.KindConnection, "handshake", context.Cause(ctx))
	}
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) && ctx.Err() == nil {
			err = fault.Errorf(fault.KindConnection, "handshake", "%w after %s: %w", ErrHandshakeTimeout, timeout, err)
		}
		return nil, err
	}

	if err := tc.SetDeadline(time.Time{}); err != nil {
		return nil, fault.Wrap(fault.KindConnection, "handshake", err)
	}
	return h, nil
}

// Send encrypts p and sends it as one message. Any failure other than an
// oversized p closes the session.
func (c *Conn) Send(p []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.Err(); err != nil {
		return err
	}
	if err := c.channel.Send(p); err != nil {
		if errors.Is(err, channel.ErrPlaintextTooLarge) {
			return err
		}
		return c.abort(err)
	}
	return nil
}

// Receive blocks until the next message arrives and returns its plaintext.
// Any failure, including a ReadTimeout expiring, closes the session.
func (c *Conn) Receive() ([]byte, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if err := c.Err(); err != nil {
		return nil, err
	}
	if c.readTimeout > 0 {
		if err := c.tunnel.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, c.abort(fault.Wrap(fault.KindConnection, "receive", err))
		}
	}
	p, err := c.channel.Receive()
	if err != nil {
		return nil, c.abort(err)
	}
	return p, nil
}

// Close closes the session and its tunnel.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.failure == nil {
			c.failure = fault.New(fault.KindConnection, "session", ErrClosed)
		}
		c.mu.Unlock()
		err = c.tunnel.Close()
	})
	return err
}

// Err returns the error that ended the session, or nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Established reports whether the session is still usable.
func (c *Conn) Established() bool {
	return c.Err() == nil
}

// Role returns the local handshake role.
func (c *Conn) Role() handshake.Role {
	return c.role
}

// PeerStatic returns the authenticated static public key of the peer.
func (c *Conn) PeerStatic() handshake.PublicKey {
	return c.peer
}

// ChannelBinding returns the handshake hash shared by both peers.
func (c *Conn) ChannelBinding() []byte {
	return append([]byte(nil), c.binding...)
}

// ConnID returns the identifier used in protocol logs.
func (c *Conn) ConnID() string {
	return c.tunnel.ConnID()
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.tunnel.RemoteAddr()
}

// Tunneled reports whether the session runs inside TLS.
func (c *Conn) Tunneled() bool {
	return c.tunnel.Tunneled()
}

// OpenedAt returns when the handshake completed.
func (c *Conn) OpenedAt() time.Time {
	return c.openedAt
}

// MaxMessageSize returns the largest plaintext Send accepts.
func (c *Conn) MaxMessageSize() int {
	return c.channel.MaxPlaintextSize()
}

func (c *Conn) abort(err error) error {
	c.mu.Lock()
	if c.failure == nil {
		c.failure = err
	}
	c.mu.Unlock()

	c.rec.Error(log.LayerChannel, err, fault.KindOf(err).String(), "session aborted")
	c.Close()
	return err
}
