package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/ravendevteam/betanet-go/pkg/config"
	"github.com/ravendevteam/betanet-go/pkg/discovery"
	"github.com/ravendevteam/betanet-go/pkg/fault"
	"github.com/ravendevteam/betanet-go/pkg/keystore"
	"github.com/ravendevteam/betanet-go/pkg/session"
	"github.com/ravendevteam/betanet-go/pkg/transport"
)

// Reply modes for serve.
const (
	ReplyEcho        = "echo"
	ReplyInteractive = "interactive"
)

// replier produces the response to one received message.
type replier func(ctx context.Context, conn *session.Conn, msg []byte) ([]byte, error)

func echoReply(_ context.Context, _ *session.Conn, msg []byte) ([]byte, error) {
	return msg, nil
}

// promptReplier asks the operator for each reply. Sessions take turns at
// the prompt.
type promptReplier struct {
	mu sync.Mutex
	rl *readline.Instance
}

func (p *promptReplier) reply(_ context.Context, conn *session.Conn, msg []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.rl.Stdout(), "[%s] %s\n", shortenConnID(conn.ConnID()), msg)
	line, err := p.rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) {
			return nil, io.EOF
		}
		return nil, err
	}
	return []byte(line), nil
}

func newServeCommand(opts *globalOptions) *cobra.Command {
	var reply string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a responder",
		Long: `Run a responder that accepts initiators, completes the handshake and
answers every message. With --reply echo each message is sent back; with
--reply interactive the operator types each reply.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.load(cmd,
				flagBinding{config.KeyIdentityPath, "identity"},
				flagBinding{config.KeyListenAddress, "listen"},
				flagBinding{config.KeyTunnelMode, "tunnel"},
				flagBinding{config.KeyDiscoveryAdvertise, "advertise"},
				flagBinding{config.KeyDiscoveryInstance, "instance"},
			)
			if err != nil {
				return err
			}
			defer e.Close()

			var r replier
			switch strings.ToLower(reply) {
			case ReplyEcho:
				r = echoReply
			case ReplyInteractive:
				rl, err := readline.NewEx(&readline.Config{
					Prompt:          "reply> ",
					InterruptPrompt: "^C",
					EOFPrompt:       "exit",
				})
				if err != nil {
					return fmt.Errorf("failed to create readline: %w", err)
				}
				defer rl.Close()
				e.logger = slog.New(slog.NewTextHandler(rl.Stderr(), &slog.HandlerOptions{Level: e.cfg.LogLevel}))
				r = (&promptReplier{rl: rl}).reply
			default:
				return fmt.Errorf("unknown reply mode %q (must be echo or interactive)", reply)
			}

			return runServe(cmd.Context(), e, r)
		},
	}

	f := cmd.Flags()
	f.StringVar(&reply, "reply", ReplyEcho, "reply mode (echo, interactive)")
	f.String("identity", "", "identity file (default $HOME/.betanet/identity.yaml)")
	f.String("listen", "", "listen address (default :8443)")
	f.String("tunnel", "", "tunnel mode (tls, none)")
	f.Bool("advertise", false, "advertise via mDNS")
	f.String("instance", "", "mDNS instance name")
	return cmd
}

func runServe(ctx context.Context, e *env, reply replier) error {
	cfg := e.cfg

	id, err := keystore.NewStore(cfg.IdentityPath).Load()
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return fmt.Errorf("%w (run 'betanet keygen' first)", err)
		}
		return err
	}

	serverTLS, err := cfg.ServerTLS()
	if err != nil {
		return err
	}
	tc := cfg.TransportServer()
	tc.TLS = serverTLS
	tc.Logger = e.protocol

	sc := session.ServerConfig{
		Session:   cfg.Session(id.Keypair, e.protocol),
		Transport: tc,
		OnSession: func(ctx context.Context, conn *session.Conn) {
			serveSession(ctx, conn, e.logger, reply)
		},
		OnError: func(err error) {
			e.logger.Warn("connection failed", "kind", fault.KindOf(err).String(), "error", err)
		},
	}

	if cfg.Advertise {
		adv, err := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{
			Interface: cfg.Interface,
			TTL:       discovery.DefaultTTL,
			Instance:  cfg.Instance,
			Tunnel:    cfg.Tunnel,
		})
		if err != nil {
			return err
		}
		sc.Advertiser = adv
		e.logger.Info("advertising", "instance", adv.Instance(), "service", discovery.ServiceType)
	}

	srv, err := session.NewServer(sc)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	e.logger.Info("listening",
		"addr", srv.Addr().String(),
		"tunnel", cfg.Tunnel.String(),
		"public_key", id.PublicKey().String(),
	)

	<-ctx.Done()
	e.logger.Info("shutting down", "sessions", srv.SessionCount())
	return srv.Stop()
}

// serveSession answers messages until the peer leaves or an error ends
// the session.
func serveSession(ctx context.Context, conn *session.Conn, logger *slog.Logger, reply replier) {
	logger = logger.With("conn_id", shortenConnID(conn.ConnID()), "peer", conn.PeerStatic().String())
	logger.Info("session established", "remote_addr", conn.RemoteAddr().String())

	for {
		msg, err := conn.Receive()
		if err != nil {
			logSessionEnd(logger, err)
			return
		}
		logger.Debug("received", "bytes", len(msg))

		out, err := reply(ctx, conn, msg)
		if err != nil {
			logger.Info("no reply, closing session", "reason", err)
			conn.Close()
			return
		}
		if err := conn.Send(out); err != nil {
			if !conn.Established() {
				logSessionEnd(logger, err)
				return
			}
			logger.Warn("reply not sent", "error", err)
		}
	}
}

func logSessionEnd(logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, transport.ErrPeerClosed), errors.Is(err, session.ErrClosed):
		logger.Info("session closed")
	default:
		logger.Warn("session failed", "kind", fault.KindOf(err).String(), "error", err)
	}
}
