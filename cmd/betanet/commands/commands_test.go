package commands

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravendevteam/betanet-go/pkg/cert"
	"github.com/ravendevteam/betanet-go/pkg/discovery"
	"github.com/ravendevteam/betanet-go/pkg/handshake"
	"github.com/ravendevteam/betanet-go/pkg/session"
	"github.com/ravendevteam/betanet-go/pkg/transport"
)

// execute runs the CLI with args against an isolated home directory.
func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var out, errOut bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err = root.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

type echoResponder struct {
	addr     string
	identity handshake.Keypair
	cert     *cert.TunnelCert
}

func startEcho(t *testing.T, tunnel transport.TunnelMode) *echoResponder {
	t.Helper()

	identity, err := handshake.GenerateKeypair()
	require.NoError(t, err)
	tc, err := cert.GenerateSelfSigned("", time.Hour, "127.0.0.1")
	require.NoError(t, err)

	tcfg := transport.ServerConfig{Tunnel: tunnel, Address: "127.0.0.1:0"}
	if tunnel == transport.TunnelTLS {
		tcfg.TLS = &transport.ServerTLSConfig{Certificate: tc.TLSCertificate()}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := session.NewServer(session.ServerConfig{
		Session:   session.Config{StaticKeypair: identity},
		Transport: tcfg,
		OnSession: func(ctx context.Context, conn *session.Conn) {
			serveSession(ctx, conn, logger, echoReply)
		},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })

	return &echoResponder{addr: srv.Addr().String(), identity: identity, cert: tc}
}

func TestKeygen(t *testing.T) {
	home := isolateHome(t)

	stdout, stderr, err := execute(t, "keygen")
	require.NoError(t, err)
	assert.Contains(t, stderr, filepath.Join(home, ".betanet"))

	first, err := handshake.ParsePublicKey(strings.TrimSpace(stdout))
	require.NoError(t, err)

	_, _, err = execute(t, "keygen")
	assert.ErrorIs(t, err, ErrIdentityExists)

	stdout, _, err = execute(t, "keygen", "--force")
	require.NoError(t, err)
	second, err := handshake.ParsePublicKey(strings.TrimSpace(stdout))
	require.NoError(t, err)
	assert.False(t, first.Equal(second))
}

func TestKeygenCustomPath(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "node.yaml")

	_, stderr, err := execute(t, "keygen", "--identity", path)
	require.NoError(t, err)
	assert.Contains(t, stderr, path)

	_, _, err = execute(t, "keygen", "--identity", path)
	assert.ErrorIs(t, err, ErrIdentityExists)
}

func TestCertgen(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls", "cert.pem")
	keyFile := filepath.Join(dir, "tls", "key.pem")

	stdout, _, err := execute(t, "certgen", "--cert", certFile, "--key", keyFile, "--host", "127.0.0.1")
	require.NoError(t, err)

	written, err := cert.ReadCertFile(certFile)
	require.NoError(t, err)
	assert.Equal(t, cert.Fingerprint(written.Raw), strings.TrimSpace(stdout))
	assert.Equal(t, cert.DefaultCommonName, written.Subject.CommonName)

	_, err = cert.LoadTLSCertificate(certFile, keyFile)
	require.NoError(t, err)

	_, _, err = execute(t, "certgen", "--cert", certFile, "--key", keyFile)
	assert.ErrorIs(t, err, ErrCertExists)

	_, _, err = execute(t, "certgen", "--cert", certFile, "--key", keyFile, "--force")
	assert.NoError(t, err)
}

func TestConnectPlain(t *testing.T) {
	isolateHome(t)
	r := startEcho(t, transport.TunnelNone)

	stdout, _, err := execute(t, "connect", r.addr,
		"--tunnel", "none",
		"--remote-key", r.identity.Public.String(),
		"--message", "hello",
		"--message", "second message",
	)
	require.NoError(t, err)
	assert.Equal(t, "hello\nsecond message\n", stdout)
}

func TestConnectTLSPinned(t *testing.T) {
	isolateHome(t)
	r := startEcho(t, transport.TunnelTLS)

	stdout, _, err := execute(t, "connect", r.addr,
		"--pin", r.cert.Fingerprint(),
		"--remote-key", r.identity.Public.String(),
		"--message", "over tls",
	)
	require.NoError(t, err)
	assert.Equal(t, "over tls\n", stdout)
}

func TestConnectWrongPin(t *testing.T) {
	isolateHome(t)
	r := startEcho(t, transport.TunnelTLS)

	other, err := cert.GenerateSelfSigned("", time.Hour, "127.0.0.1")
	require.NoError(t, err)

	stdout, _, err := execute(t, "connect", r.addr,
		"--pin", other.Fingerprint(),
		"--remote-key", r.identity.Public.String(),
		"--message", "never sent",
	)
	assert.Error(t, err)
	assert.Empty(t, stdout)
}

func TestConnectWrongRemoteKey(t *testing.T) {
	isolateHome(t)
	r := startEcho(t, transport.TunnelNone)

	impostor, err := handshake.GenerateKeypair()
	require.NoError(t, err)

	stdout, _, err := execute(t, "connect", r.addr,
		"--tunnel", "none",
		"--remote-key", impostor.Public.String(),
		"--message", "never sent",
	)
	assert.Error(t, err)
	assert.Empty(t, stdout)
}

func TestConnectWritesProtocolLog(t *testing.T) {
	isolateHome(t)
	r := startEcho(t, transport.TunnelNone)
	logPath := filepath.Join(t.TempDir(), "initiator.cbor")

	_, _, err := execute(t, "connect", r.addr,
		"--tunnel", "none",
		"--protocol-log", logPath,
		"--remote-key", r.identity.Public.String(),
		"--message", "logged",
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RunStats(logPath, &buf))
	assert.NotContains(t, buf.String(), "Total Events: 0")
	assert.NotContains(t, buf.String(), "Connections: 0")
	assert.Contains(t, buf.String(), "INITIATOR")
	assert.Contains(t, buf.String(), "Protocol: "+handshake.ProtocolName)
}

func TestConnectArguments(t *testing.T) {
	isolateHome(t)
	key, err := handshake.GenerateKeypair()
	require.NoError(t, err)

	_, _, err = execute(t, "connect", "--remote-key", key.Public.String())
	assert.ErrorContains(t, err, "--instance")

	_, _, err = execute(t, "connect", "127.0.0.1:1", "--tunnel", "none", "--remote-key", "not-hex")
	assert.ErrorContains(t, err, "--remote-key")

	_, _, err = execute(t, "connect", "127.0.0.1:1", "--message", "x")
	assert.Error(t, err, "remote key is required")

	// Pinned trust without a pin is rejected before dialing.
	_, _, err = execute(t, "connect", "127.0.0.1:1", "--remote-key", key.Public.String())
	assert.Error(t, err)
}

func TestServeRequiresIdentity(t *testing.T) {
	isolateHome(t)

	_, _, err := execute(t, "serve", "--tunnel", "none", "--listen", "127.0.0.1:0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keygen")
}

func TestServeUnknownReplyMode(t *testing.T) {
	isolateHome(t)

	_, _, err := execute(t, "serve", "--reply", "shout")
	assert.ErrorContains(t, err, "reply mode")
}

func TestServeStopsOnCancel(t *testing.T) {
	isolateHome(t)

	_, _, err := execute(t, "keygen")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		root := NewRootCommand()
		root.SetOut(io.Discard)
		root.SetErr(&stderr)
		root.SetArgs([]string{"serve", "--tunnel", "none", "--listen", "127.0.0.1:0"})
		done <- root.ExecuteContext(ctx)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Contains(t, stderr.String(), "listening")
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}

func TestLogCommands(t *testing.T) {
	path := writeLog(t, sampleEvents())

	stdout, _, err := execute(t, "log", "view", path, "--layer", "channel")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(stdout, "[conn:"))

	stdout, _, err = execute(t, "log", "stats", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Total Events: 3")

	stdout, _, err = execute(t, "log", "export", path, "--format", "csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "timestamp,"))

	out := filepath.Join(t.TempDir(), "out.cbor")
	stdout, _, err = execute(t, "log", "filter", path, "-o", out, "--role", "responder")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Filtered 1 events")

	_, _, err = execute(t, "log", "filter", path)
	assert.Error(t, err)
}

func TestPrintResponders(t *testing.T) {
	found := make(chan *discovery.ResponderService, 2)
	found <- &discovery.ResponderService{
		InstanceName: "betanet-1a2b3c4d",
		Host:         "node.local.",
		Port:         8443,
		Addresses:    []string{"192.0.2.7"},
		Protocol:     handshake.ProtocolName,
		Tunnel:       transport.TunnelTLS,
	}
	found <- &discovery.ResponderService{
		InstanceName: "betanet-5e6f7a8b",
		Host:         "other.local.",
		Port:         9000,
		Protocol:     handshake.ProtocolName,
		Tunnel:       transport.TunnelNone,
	}
	close(found)

	var buf bytes.Buffer
	n := printResponders(&buf, found)
	assert.Equal(t, 2, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "192.0.2.7:8443")
	assert.Contains(t, lines[0], "tunnel=tls")
	assert.Contains(t, lines[1], "other.local.:9000")
	assert.Contains(t, lines[1], "tunnel=none")
}

func TestEnvCloseJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	e := &env{closers: []io.Closer{closerFunc(func() error { return nil }), closerFunc(func() error { return boom })}}
	assert.ErrorIs(t, e.Close(), boom)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
