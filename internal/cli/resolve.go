package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/webriots/fiber"
	"github.com/webriots/fiber/hook"
)

func NewResolveCmd(args *RootArgs) *cobra.Command {
	var (
		server   string
		timeout  time.Duration
		attempts int
		hosts    string
	)

	cmd := &cobra.Command{
		Use:   "resolve NAME...",
		Short: "Resolve host names concurrently, one fiber per name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, names []string) error {
			cfg, err := args.loadConfig(cmd.Flags(), map[string]func(*Config){
				"dns_server":   func(c *Config) { c.DNS.Server = server },
				"dns_timeout":  func(c *Config) { c.DNS.Timeout = timeout },
				"dns_attempts": func(c *Config) { c.DNS.Attempts = attempts },
				"hosts":        func(c *Config) { c.DNS.Hosts = hosts },
			})
			if err != nil {
				return err
			}

			logger := slog.Default()
			sys := hook.New(hook.WithLogger(logger))
			resolver, err := newResolver(cfg.DNS, sys, logger)
			if err != nil {
				return err
			}
			h := hook.New(hook.WithLogger(logger), hook.WithResolver(resolver))

			sched, err := fiber.New(fiber.WithLogger(logger))
			if err != nil {
				return err
			}
			defer sched.Close()

			lines := make([]string, len(names))
			var failed int
			for i, name := range names {
				sched.Go(func(ctx context.Context) {
					ret, err := h.GetHostByName(ctx, name)
					if err != nil {
						failed++
						lines[i] = fmt.Sprintf("%s\t%v", name, err)
						return
					}
					addrs := make([]string, 0, len(ret.AddrList))
					for _, a := range ret.Addrs() {
						addrs = append(addrs, a.String())
					}
					lines[i] = fmt.Sprintf("%s\t%s", name, strings.Join(addrs, " "))
				})
			}

			if err := sched.Run(cmd.Context()); err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			if failed > 0 {
				return fmt.Errorf("resolve: %d of %d names failed", failed, len(names))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "dns_server", "8.8.8.8:53", "DNS server address")
	cmd.Flags().DurationVar(&timeout, "dns_timeout", 2*time.Second, "Timeout per DNS query")
	cmd.Flags().IntVar(&attempts, "dns_attempts", 2, "DNS queries sent before giving up")
	cmd.Flags().StringVar(&hosts, "hosts", "", "hosts(5) file consulted before DNS")
	must(cmd.MarkFlagFilename("hosts"))

	return cmd
}
