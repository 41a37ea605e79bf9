package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Finithe-Phoenix/seeallene/internal/capture"
	"github.com/Finithe-Phoenix/seeallene/internal/config"
	"github.com/Finithe-Phoenix/seeallene/internal/host"
	"github.com/Finithe-Phoenix/seeallene/internal/streamd"
)

func main() {
	configPath := flag.String("config", "", "config file path")
	addr := flag.String("addr", "", "listen address override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *addr != "" {
		cfg.StreamAddr = *addr
	}
	logger := newLogger()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	executor := host.NewExecutor(host.Config{
		CommandTimeout: cfg.CommandTimeout,
		RetryBackoff:   cfg.RetryBackoff,
	})
	source := capture.NewExecSource(executor, cfg.CaptureCommand)

	srv := streamd.NewServer(cfg, source, logger)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "seeallene-streamd: %v\n", err)
	os.Exit(1)
}
