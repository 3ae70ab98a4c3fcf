// Command betanet runs and connects to betanet secure-channel endpoints.
//
// Usage:
//
//	betanet <command> [flags]
//
// Commands:
//
//	keygen    Generate the static identity
//	certgen   Generate a self-signed tunnel certificate
//	serve     Run a responder
//	connect   Connect to a responder as initiator
//	discover  Browse the local network for responders
//	log       Inspect protocol log files
//
// Examples:
//
//	# Create an identity and a tunnel certificate
//	betanet keygen
//	betanet certgen --host responder.lan
//
//	# Run an echo responder and advertise it via mDNS
//	betanet serve --reply echo --advertise
//
//	# Send one message, pinning the responder's certificate
//	betanet connect --remote-key <hex> --pin <fingerprint> --message hello responder.lan:8443
//
//	# Review a protocol capture
//	betanet log view --layer handshake session.cbor
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ravendevteam/betanet-go/cmd/betanet/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
