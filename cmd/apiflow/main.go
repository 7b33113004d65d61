package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/petrijr/apiflow/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.RootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, cli.ErrRunFailed) {
			fmt.Fprintln(os.Stderr, "apiflow:", err)
		}
		os.Exit(1)
	}
}
