package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/ravendevteam/betanet-go/pkg/config"
	"github.com/ravendevteam/betanet-go/pkg/discovery"
	"github.com/ravendevteam/betanet-go/pkg/handshake"
	"github.com/ravendevteam/betanet-go/pkg/keystore"
	"github.com/ravendevteam/betanet-go/pkg/session"
)

type connectOptions struct {
	remoteKey string
	messages  []string
	instance  string
}

func newConnectCommand(opts *globalOptions) *cobra.Command {
	co := &connectOptions{}

	cmd := &cobra.Command{
		Use:   "connect [address]",
		Short: "Connect to a responder as initiator",
		Long: `Connect to a responder, authenticate it by its static public key and
exchange messages. Each --message is sent in turn and its reply printed.
Without --message an interactive prompt sends every line typed.

The address may be omitted when --instance names a responder advertised
via mDNS.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && co.instance == "" {
				return errors.New("an address or --instance is required")
			}

			e, err := opts.load(cmd,
				flagBinding{config.KeyIdentityPath, "identity"},
				flagBinding{config.KeyTunnelMode, "tunnel"},
				flagBinding{config.KeyTunnelTrust, "trust"},
				flagBinding{config.KeyTunnelPin, "pin"},
				flagBinding{config.KeyTunnelCA, "ca"},
				flagBinding{config.KeyTunnelServerName, "server-name"},
				flagBinding{config.KeyRetryAttempts, "attempts"},
				flagBinding{config.KeyDiscoveryIface, "interface"},
			)
			if err != nil {
				return err
			}
			defer e.Close()

			address := ""
			if len(args) == 1 {
				address = args[0]
			}
			return runConnect(cmd.Context(), e, address, co, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&co.remoteKey, "remote-key", "", "responder static public key (hex)")
	f.StringArrayVar(&co.messages, "message", nil, "message to send (repeatable)")
	f.StringVar(&co.instance, "instance", "", "look up the responder by mDNS instance name")
	f.String("identity", "", "identity file (default $HOME/.betanet/identity.yaml)")
	f.String("tunnel", "", "tunnel mode (tls, none)")
	f.String("trust", "", "tunnel trust policy (pinned, ca, none)")
	f.String("pin", "", "SHA-256 fingerprint of the responder certificate")
	f.String("ca", "", "CA bundle for --trust ca")
	f.String("server-name", "", "expected server name")
	f.Int("attempts", 0, "dial attempts")
	f.String("interface", "", "network interface for mDNS lookup")
	_ = cmd.MarkFlagRequired("remote-key")
	return cmd
}

func runConnect(ctx context.Context, e *env, address string, opts *connectOptions, in io.Reader, out io.Writer) error {
	cfg := e.cfg

	remote, err := handshake.ParsePublicKey(opts.remoteKey)
	if err != nil {
		return fmt.Errorf("--remote-key: %w", err)
	}

	kp, err := initiatorKeypair(e)
	if err != nil {
		return err
	}

	if address == "" {
		browser, err := discovery.NewMDNSBrowser(discovery.BrowserConfig{Interface: cfg.Interface})
		if err != nil {
			return err
		}
		svc, err := browser.Find(ctx, opts.instance)
		if err != nil {
			return err
		}
		address = svc.Addr()
		e.logger.Info("resolved responder", "instance", svc.InstanceName, "addr", address)
	}

	sc := cfg.Session(kp, e.protocol)
	sc.RemoteStatic = remote
	if sc.TLS, err = cfg.ClientTLS(); err != nil {
		return err
	}
	sc.Retry.OnRetry = func(next int, delay time.Duration, err error) {
		e.logger.Warn("dial failed, retrying", "attempt", next, "delay", delay, "error", err)
	}

	conn, err := session.Dial(ctx, address, sc)
	if err != nil {
		return err
	}
	defer conn.Close()
	e.logger.Info("session established",
		"conn_id", shortenConnID(conn.ConnID()),
		"remote_addr", conn.RemoteAddr().String(),
		"tunneled", conn.Tunneled(),
	)

	if len(opts.messages) > 0 {
		for _, msg := range opts.messages {
			if err := exchange(conn, msg, out); err != nil {
				return err
			}
		}
		return nil
	}
	return interactiveConnect(conn, in, out)
}

// initiatorKeypair loads the local identity, falling back to a fresh
// keypair when none has been generated.
func initiatorKeypair(e *env) (handshake.Keypair, error) {
	id, err := keystore.NewStore(e.cfg.IdentityPath).Load()
	if err == nil {
		return id.Keypair, nil
	}
	if !errors.Is(err, keystore.ErrNotFound) {
		return handshake.Keypair{}, err
	}
	e.logger.Info("no identity found, using an ephemeral static key", "path", e.cfg.IdentityPath)
	return handshake.GenerateKeypair()
}

// exchange sends msg and prints the reply.
func exchange(conn *session.Conn, msg string, out io.Writer) error {
	if err := conn.Send([]byte(msg)); err != nil {
		return err
	}
	reply, err := conn.Receive()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(reply))
	return nil
}

func interactiveConnect(conn *session.Conn, in io.Reader, out io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           io.NopCloser(in),
		Stdout:          out,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			// EOF or interrupt
			return nil
		}
		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := exchange(conn, input, rl.Stdout()); err != nil {
			return err
		}
	}
}
