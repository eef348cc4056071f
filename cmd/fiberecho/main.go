package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/webriots/fiber/internal/cli"
)

const (
	cmdName = "fiberecho"

	shortDesc = "Echo server, client and resolver built on fibers."
	longDesc  = `fiberecho exercises the fiber scheduler end to end.

Every connection, dial and lookup runs in its own fiber and is written in
plain blocking style; the hook package turns each blocking call into a
wait on the scheduler's event engine.
`
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCmd(cmdName, shortDesc, longDesc)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimLeft(err.Error(), "\n"))
		stop()
		os.Exit(1)
	}
}
