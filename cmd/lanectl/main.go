package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"qms/lane-service/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRoot(cli.OpenFromConfig).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "lanectl:", err)
		os.Exit(1)
	}
}
