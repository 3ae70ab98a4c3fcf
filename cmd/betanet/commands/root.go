// Package commands implements the betanet CLI commands.
package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ravendevteam/betanet-go/pkg/config"
	"github.com/ravendevteam/betanet-go/pkg/handshake"
	"github.com/ravendevteam/betanet-go/pkg/log"
)

type globalOptions struct {
	configPath  string
	logLevel    string
	protocolLog string
}

// NewRootCommand builds the betanet command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:          "betanet",
		Short:        "Betanet secure channel endpoint",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default $HOME/.betanet/config.yaml)")
	pf.StringVar(&opts.logLevel, "log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	pf.StringVar(&opts.protocolLog, "protocol-log", "", "write protocol events to this CBOR file")

	root.AddCommand(
		newKeygenCommand(opts),
		newCertgenCommand(opts),
		newServeCommand(opts),
		newConnectCommand(opts),
		newDiscoverCommand(opts),
		newLogCommand(),
	)
	return root
}

// env is what every networked command needs once flags are parsed.
type env struct {
	cfg      config.Config
	logger   *slog.Logger
	protocol log.Logger
	closers  []io.Closer
}

func (e *env) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// flagBinding ties a command flag to a config key.
type flagBinding struct {
	key  string
	flag string
}

// config resolves configuration with flags taking precedence over the
// environment and the config file.
func (o *globalOptions) config(cmd *cobra.Command, bindings ...flagBinding) (config.Config, error) {
	v, err := config.NewViper(o.configPath)
	if err != nil {
		return config.Config{}, err
	}

	bindings = append(bindings,
		flagBinding{config.KeyLogLevel, "log-level"},
		flagBinding{config.KeyLogProtocol, "protocol-log"},
	)
	if err := bindFlags(v, cmd.Flags(), bindings); err != nil {
		return config.Config{}, err
	}
	return config.FromViper(v)
}

// load resolves configuration, then sets up the console and protocol
// loggers.
func (o *globalOptions) load(cmd *cobra.Command, bindings ...flagBinding) (*env, error) {
	cfg, err := o.config(cmd, bindings...)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg}
	e.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel}))

	var sinks []log.Logger
	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog, log.WithProtocol(handshake.ProtocolName))
		if err != nil {
			return nil, fmt.Errorf("open protocol log: %w", err)
		}
		sinks = append(sinks, fl)
		e.closers = append(e.closers, fl)
	}
	if cfg.LogLevel <= slog.LevelDebug {
		sinks = append(sinks, log.NewSlogAdapter(e.logger))
	}
	e.protocol = log.Tee(sinks...)

	return e, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, bindings []flagBinding) error {
	for _, b := range bindings {
		f := fs.Lookup(b.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(b.key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", b.flag, err)
		}
	}
	return nil
}
