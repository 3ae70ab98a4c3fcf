package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ravendevteam/betanet-go/pkg/cert"
	"github.com/ravendevteam/betanet-go/pkg/config"
)

// ErrCertExists is returned by certgen when it would overwrite a file.
var ErrCertExists = errors.New("certificate already exists (use --force to replace it)")

type certgenOptions struct {
	commonName string
	validity   time.Duration
	hosts      []string
	force      bool
}

func newCertgenCommand(opts *globalOptions) *cobra.Command {
	co := &certgenOptions{}

	cmd := &cobra.Command{
		Use:   "certgen",
		Short: "Generate a self-signed tunnel certificate and print its fingerprint",
		Long: `Generate a self-signed ECDSA P-256 certificate for the responder's TLS
tunnel. Initiators pin the printed SHA-256 fingerprint with --pin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config(cmd,
				flagBinding{config.KeyTunnelCert, "cert"},
				flagBinding{config.KeyTunnelKey, "key"},
			)
			if err != nil {
				return err
			}
			return runCertgen(cmd, cfg.CertFile, cfg.KeyFile, co)
		},
	}

	f := cmd.Flags()
	f.String("cert", "", "certificate output file (default $HOME/.betanet/cert.pem)")
	f.String("key", "", "private key output file (default $HOME/.betanet/key.pem)")
	f.StringVar(&co.commonName, "common-name", cert.DefaultCommonName, "subject common name")
	f.DurationVar(&co.validity, "validity", cert.DefaultTunnelCertValidity, "certificate lifetime")
	f.StringSliceVar(&co.hosts, "host", nil, "DNS name or IP address to include (repeatable)")
	f.BoolVar(&co.force, "force", false, "replace existing files")
	return cmd
}

func runCertgen(cmd *cobra.Command, certFile, keyFile string, opts *certgenOptions) error {
	if !opts.force {
		for _, path := range []string{certFile, keyFile} {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s: %w", path, ErrCertExists)
			}
		}
	}

	tc, err := cert.GenerateSelfSigned(opts.commonName, opts.validity, opts.hosts...)
	if err != nil {
		return err
	}

	for _, path := range []string{certFile, keyFile} {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return err
		}
	}
	if err := cert.WriteCertFile(certFile, tc.Certificate); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	if err := cert.WriteKeyFile(keyFile, tc.PrivateKey); err != nil {
		return fmt.Errorf("write key: %w", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Certificate written to %s (expires %s)\n",
		certFile, tc.ExpiresAt().Format(time.RFC3339))
	fmt.Fprintln(cmd.OutOrStdout(), tc.Fingerprint())
	return nil
}
