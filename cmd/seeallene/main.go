package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Finithe-Phoenix/seeallene/internal/cli"
	"github.com/Finithe-Phoenix/seeallene/internal/config"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "seeallene: %v\n", err)
		os.Exit(1)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r := cli.NewRunner(cfg, os.Stdout, os.Stderr)
	os.Exit(r.Run(ctx, os.Args[1:]))
}
