package commands

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newLogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect protocol log files",
		Long: `Inspect CBOR protocol logs written with --protocol-log.

Events are captured at the transport, handshake and channel layers. Frame
sizes and handshake state transitions are recorded; keys and plaintexts
never are.`,
	}
	cmd.AddCommand(
		newLogViewCommand(),
		newLogStatsCommand(),
		newLogExportCommand(),
		newLogFilterCommand(),
	)
	return cmd
}

func addFilterFlags(f *pflag.FlagSet, opts *FilterOptions) {
	f.StringVar(&opts.ConnID, "conn-id", "", "filter by connection ID")
	f.StringVar(&opts.RemoteAddr, "remote-addr", "", "filter by peer address")
	f.StringVar(&opts.TimeStart, "time-start", "", "events at or after this RFC3339 time")
	f.StringVar(&opts.TimeEnd, "time-end", "", "events before this RFC3339 time")
	f.StringVar(&opts.Layer, "layer", "", "filter by layer (transport, handshake, channel)")
	f.StringVar(&opts.Direction, "direction", "", "filter by direction (in, out)")
	f.StringVar(&opts.Category, "category", "", "filter by category (message, state, error)")
	f.StringVar(&opts.Role, "role", "", "filter by local role (initiator, responder)")
}

func newLogViewCommand() *cobra.Command {
	opts := FilterOptions{}
	cmd := &cobra.Command{
		Use:   "view <file>",
		Short: "View log file in human-readable format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.Filter()
			if err != nil {
				return err
			}
			return RunView(args[0], filter, cmd.OutOrStdout())
		},
	}
	addFilterFlags(cmd.Flags(), &opts)
	return cmd
}

func newLogStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file>",
		Short: "Show statistics about the log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunStats(args[0], cmd.OutOrStdout())
		},
	}
}

func newLogExportCommand() *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export log file to JSONL or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return RunExport(args[0], format, w)
		},
	}
	cmd.Flags().StringVar(&format, "format", "jsonl", "output format (jsonl, csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newLogFilterCommand() *cobra.Command {
	opts := FilterOptions{}
	var output string
	cmd := &cobra.Command{
		Use:   "filter <file>",
		Short: "Filter log file and write matching events to a new file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.Filter()
			if err != nil {
				return err
			}
			return RunFilter(args[0], output, filter, cmd.OutOrStdout())
		},
	}
	addFilterFlags(cmd.Flags(), &opts)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
