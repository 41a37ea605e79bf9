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

	"github.com/Finithe-Phoenix/seeallene/internal/client"
	"github.com/Finithe-Phoenix/seeallene/internal/config"
	"github.com/Finithe-Phoenix/seeallene/internal/db"
	"github.com/Finithe-Phoenix/seeallene/internal/watchdog"
)

func main() {
	configPath := flag.String("config", "", "config file path")
	streamdBin := flag.String("streamd-bin", "", "path to seeallene-streamd")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *streamdBin != "" {
		cfg.StreamdBin = *streamdBin
	}
	if cfg.StreamdBin == "" {
		cfg.StreamdBin = "seeallene-streamd"
	}
	logger := newLogger()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close() //nolint:errcheck
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		fatal(err)
	}

	child := watchdog.NewProcess(cfg.StreamdBin, []string{"-addr", cfg.StreamAddr}, nil)
	prober := client.New(cfg.StreamAddr)
	supervisor := watchdog.NewSupervisor(cfg, prober, child, store, logger)
	if err := supervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
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
	_, _ = fmt.Fprintf(os.Stderr, "seeallene-watchdog: %v\n", err)
	os.Exit(1)
}
