package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ravendevteam/betanet-go/pkg/config"
	"github.com/ravendevteam/betanet-go/pkg/discovery"
)

func newDiscoverCommand(opts *globalOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse the local network for responders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config(cmd, flagBinding{config.KeyDiscoveryIface, "interface"})
			if err != nil {
				return err
			}

			browser, err := discovery.NewMDNSBrowser(discovery.BrowserConfig{Interface: cfg.Interface})
			if err != nil {
				return err
			}
			defer browser.Stop()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			found, err := browser.Browse(ctx)
			if err != nil {
				return err
			}
			n := printResponders(cmd.OutOrStdout(), found)
			if n == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No responders found")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to browse")
	cmd.Flags().String("interface", "", "network interface to browse on")
	return cmd
}

// printResponders writes one line per responder until found is closed and
// returns how many were printed.
func printResponders(w io.Writer, found <-chan *discovery.ResponderService) int {
	n := 0
	for svc := range found {
		fmt.Fprintf(w, "%-24s %-24s tunnel=%s addrs=%s\n",
			svc.InstanceName, svc.Addr(), svc.Tunnel, strings.Join(svc.Addresses, ","))
		n++
	}
	return n
}
