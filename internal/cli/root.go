// Package cli implements the fiberecho command.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/webriots/fiber/hook"
	"github.com/webriots/fiber/resolve"
)

var ErrLogHandlerFailed = errors.New("log handler failed")

type RootArgs struct {
	logLevel  *string
	logFormat *string
	config    *string
}

func NewRootArgs() *RootArgs {
	return &RootArgs{
		logLevel:  new(string),
		logFormat: new(string),
		config:    new(string),
	}
}

func (a *RootArgs) GetLogLevel() string {
	return *a.logLevel
}

func (a *RootArgs) GetLogFormat() string {
	return *a.logFormat
}

func (a *RootArgs) GetConfig() string {
	return *a.config
}

func NewRootCmd(name, shortDesc, longDesc string) *cobra.Command {
	args := NewRootArgs()

	cmd := &cobra.Command{
		Use:           name,
		Short:         shortDesc,
		Long:          longDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(args.logLevel, "log_level", "warn", "Set the log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(args.logFormat, "log_format", FormatAuto, "Set the log format (auto, text, logfmt, json)")
	cmd.PersistentFlags().StringVarP(args.config, "config", "c", "", "Path to a YAML config file")
	must(cmd.MarkPersistentFlagFilename("config", "yaml", "yml"))

	cmd.PersistentPreRunE = func(cc *cobra.Command, _ []string) error {
		h, err := NewHandler(cc.ErrOrStderr(), args.GetLogLevel(), args.GetLogFormat())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLogHandlerFailed, err)
		}

		slog.SetDefault(slog.New(h))

		slog.Debug("ready to go")

		return nil
	}

	cmd.AddCommand(NewServeCmd(args))
	cmd.AddCommand(NewDialCmd(args))
	cmd.AddCommand(NewResolveCmd(args))
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig reads the config file, if any, then applies the override
// of every flag that was set explicitly.
func (a *RootArgs) loadConfig(flags *pflag.FlagSet, overrides map[string]func(*Config)) (Config, error) {
	cfg, err := LoadConfig(a.GetConfig())
	if err != nil {
		return cfg, err
	}
	for name, apply := range overrides {
		if flags.Changed(name) {
			apply(&cfg)
		}
	}
	return cfg, cfg.Validate()
}

// newResolver builds the resolver chain: an optional hosts file, then
// DNS with its socket I/O going through h.
func newResolver(cfg DNSConfig, h *hook.Hook, logger *slog.Logger) (hook.Resolver, error) {
	server, err := netip.ParseAddrPort(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("dns server: %w", err)
	}
	dns := resolve.NewDNS(
		resolve.WithServer(server),
		resolve.WithTimeout(cfg.Timeout),
		resolve.WithAttempts(cfg.Attempts),
		resolve.WithHook(h),
		resolve.WithLogger(logger),
	)
	if cfg.Hosts == "" {
		return dns, nil
	}

	f, err := os.Open(cfg.Hosts)
	if err != nil {
		return nil, fmt.Errorf("hosts: %w", err)
	}
	defer f.Close()

	hosts, err := resolve.ParseHosts(f)
	if err != nil {
		return nil, err
	}
	return resolve.Chain{hosts, dns}, nil
}

func NewConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print an example config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), exampleConfig)
			return err
		},
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
