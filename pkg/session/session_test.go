package session_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ravendevteam/betanet-go/pkg/cert"
	"github.com/ravendevteam/betanet-go/pkg/connection"
	"github.com/ravendevteam/betanet-go/pkg/fault"
	"github.com/ravendevteam/betanet-go/pkg/handshake"
	"github.com/ravendevteam/betanet-go/pkg/session"
	"github.com/ravendevteam/betanet-go/pkg/transport"
)

type responder struct {
	server   *session.Server
	identity handshake.Keypair
	cert     *cert.TunnelCert
	errs     chan error
}

func (r *responder) addr() string {
	return r.server.Addr().String()
}

// pong replies "pong" to "ping" and echoes anything else.
func pong(_ context.Context, conn *session.Conn) {
	for {
		msg, err := conn.Receive()
		if err != nil {
			return
		}
		reply := msg
		if string(msg) == "ping" {
			reply = []byte("pong")
		}
		if err := conn.Send(reply); err != nil {
			return
		}
	}
}

func startResponder(t *testing.T, tunnel transport.TunnelMode, onSession func(context.Context, *session.Conn)) *responder {
	t.Helper()

	identity, err := handshake.GenerateKeypair()
	require.NoError(t, err)
	tc, err := cert.GenerateSelfSigned("", time.Hour, "127.0.0.1")
	require.NoError(t, err)

	if onSession == nil {
		onSession = pong
	}

	r := &responder{identity: identity, cert: tc, errs: make(chan error, 16)}
	tcfg := transport.ServerConfig{Tunnel: tunnel, Address: "127.0.0.1:0"}
	if tunnel == transport.TunnelTLS {
		tcfg.TLS = &transport.ServerTLSConfig{Certificate: tc.TLSCertificate()}
	}

	r.server, err = session.NewServer(session.ServerConfig{
		Session:   session.Config{StaticKeypair: identity},
		Transport: tcfg,
		OnSession: onSession,
		OnError: func(err error) {
			select {
			case r.errs <- err:
			default:
			}
		},
	})
	require.NoError(t, err)
	require.NoError(t, r.server.Start(context.Background()))
	t.Cleanup(func() { r.server.Stop() })
	return r
}

func initiatorConfig(t *testing.T, r *responder) session.Config {
	t.Helper()
	identity, err := handshake.GenerateKeypair()
	require.NoError(t, err)
	return session.Config{
		StaticKeypair: identity,
		RemoteStatic:  r.identity.Public,
		Tunnel:        transport.TunnelTLS,
		TLS: &transport.ClientTLSConfig{
			Trust:             transport.TrustPinned,
			PinnedFingerprint: r.cert.Fingerprint(),
		},
	}
}

func dial(t *testing.T, r *responder, cfg session.Config) (*session.Conn, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return session.Dial(ctx, r.addr(), cfg)
}

func TestPingPongOverTLS(t *testing.T) {
	r := startResponder(t, transport.TunnelTLS, nil)
	cfg := initiatorConfig(t, r)

	conn, err := dial(t, r, cfg)
	require.NoError(t, err)
	defer conn.Close()

	assert.True(t, conn.Established())
	assert.True(t, conn.Tunneled())
	assert.Equal(t, handshake.RoleInitiator, conn.Role())
	assert.Equal(t, r.identity.Public, conn.PeerStatic())
	assert.NotEmpty(t, conn.ConnID())
	assert.NotEmpty(t, conn.ChannelBinding())

	require.NoError(t, conn.Send([]byte("ping")))
	reply, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(reply))

	for _, msg := range []string{"", "hello", "third message"} {
		require.NoError(t, conn.Send([]byte(msg)))
		reply, err := conn.Receive()
		require.NoError(t, err)
		assert.Equal(t, msg, string(reply))
	}
}

func TestResponderLearnsInitiatorKey(t *testing.T) {
	peers := make(chan handshake.PublicKey, 1)
	roles := make(chan handshake.Role, 1)
	r := startResponder(t, transport.TunnelTLS, func(_ context.Context, conn *session.Conn) {
		peers <- conn.PeerStatic()
		roles <- conn.Role()
		conn.Receive()
	})
	cfg := initiatorConfig(t, r)

	conn, err := dial(t, r, cfg)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case peer := <-peers:
		assert.Equal(t, cfg.StaticKeypair.Public, peer)
		assert.Equal(t, handshake.RoleResponder, <-roles)
	case <-time.After(5 * time.Second):
		t.Fatal("session not established on responder")
	}
}

func TestPlaintextTunnel(t *testing.T) {
	r := startResponder(t, transport.TunnelNone, nil)
	cfg := initiatorConfig(t, r)
	cfg.Tunnel = transport.TunnelNone
	cfg.TLS = nil

	conn, err := dial(t, r, cfg)
	require.NoError(t, err)
	defer conn.Close()

	assert.False(t, conn.Tunneled())
	require.NoError(t, conn.Send([]byte("ping")))
	reply, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(reply))
}

func TestWrongResponderKey(t *testing.T) {
	r := startResponder(t, transport.TunnelTLS, nil)
	cfg := initiatorConfig(t, r)
	other, err := handshake.GenerateKeypair()
	require.NoError(t, err)
	cfg.RemoteStatic = other.Public

	_, err = dial(t, r, cfg)
	require.Error(t, err)

	select {
	case serverErr := <-r.errs:
		assert.True(t, fault.Is(serverErr, fault.KindHandshake), "got %v", serverErr)
	case <-time.After(5 * time.Second):
		t.Fatal("responder did not report the failed handshake")
	}
	assert.Equal(t, 0, r.server.SessionCount())
}

func TestPinMismatchIsTransportSecurity(t *testing.T) {
	r := startResponder(t, transport.TunnelTLS, nil)
	cfg := initiatorConfig(t, r)
	cfg.TLS.PinnedFingerprint = "00" + r.cert.Fingerprint()[2:]
	if cfg.TLS.PinnedFingerprint == r.cert.Fingerprint() {
		cfg.TLS.PinnedFingerprint = "11" + r.cert.Fingerprint()[2:]
	}

	_, err := dial(t, r, cfg)
	assert.True(t, fault.Is(err, fault.KindTransportSecurity), "got %v", err)
}

func TestDialRequiresRemoteStatic(t *testing.T) {
	identity, err := handshake.GenerateKeypair()
	require.NoError(t, err)

	_, err = session.Dial(context.Background(), "127.0.0.1:1", session.Config{StaticKeypair: identity})
	assert.ErrorIs(t, err, handshake.ErrNoRemoteStatic)
}

// silentListener accepts TCP connections and never says anything.
func silentListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		for _, c := range conns {
			c.Close()
		}
		mu.Unlock()
	})
	return ln
}

func TestHandshakeTimeout(t *testing.T) {
	ln := silentListener(t)
	identity, _ := handshake.GenerateKeypair()
	remote, _ := handshake.GenerateKeypair()

	start := time.Now()
	_, err := session.Dial(context.Background(), ln.Addr().String(), session.Config{
		StaticKeypair:    identity,
		RemoteStatic:     remote.Public,
		Tunnel:           transport.TunnelNone,
		HandshakeTimeout: 100 * time.Millisecond,
	})

	assert.ErrorIs(t, err, session.ErrHandshakeTimeout)
	assert.True(t, fault.Is(err, fault.KindConnection), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDialCancelAbortsHandshake(t *testing.T) {
	ln := silentListener(t)
	identity, _ := handshake.GenerateKeypair()
	remote, _ := handshake.GenerateKeypair()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := session.Dial(ctx, ln.Addr().String(), session.Config{
		StaticKeypair: identity,
		RemoteStatic:  remote.Public,
		Tunnel:        transport.TunnelNone,
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, session.ErrHandshakeTimeout)
}

func TestDialRetriesRefusedConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	identity, _ := handshake.GenerateKeypair()
	remote, _ := handshake.GenerateKeypair()

	attempts := 1
	_, err = session.Dial(context.Background(), addr, session.Config{
		StaticKeypair: identity,
		RemoteStatic:  remote.Public,
		Tunnel:        transport.TunnelNone,
		Retry: connection.Policy{
			MaxAttempts: 3,
			Backoff:     connection.BackoffConfig{Initial: time.Millisecond, Jitter: -1},
			OnRetry: func(next int, _ time.Duration, _ error) {
				attempts = next
			},
		},
	})

	assert.True(t, fault.Is(err, fault.KindConnection), "got %v", err)
	assert.Equal(t, 3, attempts)
}

func TestReadTimeoutClosesSession(t *testing.T) {
	r := startResponder(t, transport.TunnelTLS, func(ctx context.Context, conn *session.Conn) {
		<-ctx.Done()
	})
	cfg := initiatorConfig(t, r)
	cfg.ReadTimeout = 50 * time.Millisecond

	conn, err := dial(t, r, cfg)
	require.NoError(t, err)

	_, err = conn.Receive()
	assert.True(t, fault.Is(err, fault.KindConnection), "got %v", err)
	assert.False(t, conn.Established())

	err = conn.Send([]byte("too late"))
	assert.Error(t, err)
}

func TestPeerCloseEndsSession(t *testing.T) {
	r := startResponder(t, transport.TunnelTLS, func(ctx context.Context, conn *session.Conn) {})
	cfg := initiatorConfig(t, r)

	conn, err := dial(t, r, cfg)
	require.NoError(t, err)

	_, err = conn.Receive()
	assert.ErrorIs(t, err, transport.ErrPeerClosed)
	assert.ErrorIs(t, conn.Err(), transport.ErrPeerClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	r := startResponder(t, transport.TunnelTLS, nil)
	conn, err := dial(t, r, initiatorConfig(t, r))
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send([]byte("x")), session.ErrClosed)
	_, err = conn.Receive()
	assert.ErrorIs(t, err, session.ErrClosed)
}

func TestOversizedSendKeepsSession(t *testing.T) {
	r := startResponder(t, transport.TunnelTLS, nil)
	conn, err := dial(t, r, initiatorConfig(t, r))
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Send(make([]byte, conn.MaxMessageSize()+1))
	assert.True(t, fault.Is(err, fault.KindFraming), "got %v", err)
	assert.True(t, conn.Established())

	require.NoError(t, conn.Send([]byte("ping")))
	reply, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(reply))
}

func TestConcurrentSessions(t *testing.T) {
	r := startResponder(t, transport.TunnelTLS, nil)

	const n = 8
	configs := make([]session.Config, n)
	for i := range configs {
		configs[i] = initiatorConfig(t, r)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(cfg session.Config) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn, err := session.Dial(ctx, r.addr(), cfg)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			if err := conn.Send([]byte("ping")); err != nil {
				errs <- err
				return
			}
			reply, err := conn.Receive()
			if err != nil {
				errs <- err
				return
			}
			if string(reply) != "pong" {
				errs <- errors.New("unexpected reply " + string(reply))
			}
		}(configs[i])
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

type mockAdvertiser struct {
	mock.Mock
}

func (m *mockAdvertiser) Advertise(ctx context.Context, port int) error {
	return m.Called(ctx, port).Error(0)
}

func (m *mockAdvertiser) Stop() {
	m.Called()
}

func TestServerAdvertisesBoundPort(t *testing.T) {
	identity, err := handshake.GenerateKeypair()
	require.NoError(t, err)

	adv := &mockAdvertiser{}
	adv.On("Advertise", mock.Anything, mock.MatchedBy(func(port int) bool { return port > 0 })).Return(nil).Once()
	adv.On("Stop").Return().Once()

	server, err := session.NewServer(session.ServerConfig{
		Session:    session.Config{StaticKeypair: identity},
		Transport:  transport.ServerConfig{Tunnel: transport.TunnelNone, Address: "127.0.0.1:0"},
		OnSession:  pong,
		Advertiser: adv,
	})
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	require.NoError(t, server.Stop())

	adv.AssertExpectations(t)
	port := server.Addr().(*net.TCPAddr).Port
	adv.AssertCalled(t, "Advertise", mock.Anything, port)
}

func TestServerAdvertiseFailureStops(t *testing.T) {
	identity, err := handshake.GenerateKeypair()
	require.NoError(t, err)

	adv := &mockAdvertiser{}
	adv.On("Advertise", mock.Anything, mock.Anything).Return(errors.New("no multicast")).Once()

	server, err := session.NewServer(session.ServerConfig{
		Session:    session.Config{StaticKeypair: identity},
		Transport:  transport.ServerConfig{Tunnel: transport.TunnelNone, Address: "127.0.0.1:0"},
		OnSession:  pong,
		Advertiser: adv,
	})
	require.NoError(t, err)

	err = server.Start(context.Background())
	assert.ErrorContains(t, err, "no multicast")
	adv.AssertExpectations(t)
}

func TestNewServerValidation(t *testing.T) {
	_, err := session.NewServer(session.ServerConfig{})
	assert.Error(t, err)

	_, err = session.NewServer(session.ServerConfig{OnSession: pong})
	assert.ErrorIs(t, err, handshake.ErrKeypairInvalid)
}
