package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/webriots/fiber"
	"github.com/webriots/fiber/hook"
	"github.com/webriots/fiber/internal/echo"
)

func NewDialCmd(args *RootArgs) *cobra.Command {
	var (
		count   int
		message string
	)

	cmd := &cobra.Command{
		Use:   "dial ADDR",
		Short: "Send messages to an echo server from concurrent fibers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			addr, err := netip.ParseAddrPort(argv[0])
			if err != nil {
				return fmt.Errorf("dial: %w", err)
			}
			cfg, err := args.loadConfig(cmd.Flags(), nil)
			if err != nil {
				return err
			}

			logger := slog.Default()
			sched, err := fiber.New(
				fiber.WithLogger(logger),
				fiber.WithStackSize(cfg.StackSize),
				fiber.WithMaxEvents(cfg.MaxEvents),
			)
			if err != nil {
				return err
			}
			defer sched.Close()

			h := hook.New(hook.WithLogger(logger))
			replies := make([]string, count)
			errs := make([]error, count)
			for i := range count {
				sched.Go(func(ctx context.Context) {
					msg := message
					if count > 1 {
						msg = fmt.Sprintf("%s %d", message, i)
					}
					reply, err := echo.Dial(ctx, h, addr, []byte(msg))
					replies[i], errs[i] = string(reply), err
				})
			}

			start := time.Now()
			if err := sched.Run(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var failed int
			for i, reply := range replies {
				if errs[i] != nil {
					failed++
					fmt.Fprintf(out, "%d\terror: %v\n", i, errs[i])
					continue
				}
				fmt.Fprintf(out, "%d\t%s\n", i, strings.TrimSpace(reply))
			}
			logger.Info("dial done",
				slog.Int("fibers", count),
				slog.Int("failed", failed),
				slog.Duration("elapsed", time.Since(start)),
			)
			if failed > 0 {
				return fmt.Errorf("dial: %d of %d fibers failed", failed, count)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of concurrent fibers")
	cmd.Flags().StringVarP(&message, "message", "m", "ping", "Message to send")

	return cmd
}
