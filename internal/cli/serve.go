package cli

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/spf13/cobra"

	"github.com/webriots/fiber/hook"
	"github.com/webriots/fiber/internal/echo"
)

func NewServeCmd(args *RootArgs) *cobra.Command {
	var (
		listen     string
		schedulers int
		backlog    int
		stackSize  int
		maxEvents  int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a TCP echo server",
		Long: `Run a TCP echo server. Each scheduler runs on its own OS thread with
its own SO_REUSEPORT listener, and every connection is served by a fiber
that reads and writes in blocking style.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := args.loadConfig(cmd.Flags(), map[string]func(*Config){
				"listen":     func(c *Config) { c.Listen = listen },
				"schedulers": func(c *Config) { c.Schedulers = schedulers },
				"backlog":    func(c *Config) { c.Backlog = backlog },
				"stack_size": func(c *Config) { c.StackSize = stackSize },
				"max_events": func(c *Config) { c.MaxEvents = maxEvents },
			})
			if err != nil {
				return err
			}

			logger := slog.Default()
			srv, err := echo.NewServer(echo.ServerConfig{
				Addr:       netip.MustParseAddrPort(cfg.Listen),
				Schedulers: cfg.Schedulers,
				Backlog:    cfg.Backlog,
				StackSize:  cfg.StackSize,
				MaxEvents:  cfg.MaxEvents,
			}, hook.New(hook.WithLogger(logger)), logger)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer srv.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", srv.Addr())
			return srv.Serve(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "127.0.0.1:7007", "Address to listen on")
	cmd.Flags().IntVarP(&schedulers, "schedulers", "n", 1, "Number of schedulers, one per OS thread")
	cmd.Flags().IntVar(&backlog, "backlog", 1024, "Listen backlog")
	cmd.Flags().IntVar(&stackSize, "stack_size", 0, "Fiber stack size in bytes")
	cmd.Flags().IntVar(&maxEvents, "max_events", 0, "Readiness events collected per engine wait")

	return cmd
}
