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

	"github.com/Finithe-Phoenix/seeallene/internal/classify"
	"github.com/Finithe-Phoenix/seeallene/internal/client"
	"github.com/Finithe-Phoenix/seeallene/internal/config"
	"github.com/Finithe-Phoenix/seeallene/internal/db"
	"github.com/Finithe-Phoenix/seeallene/internal/host"
	"github.com/Finithe-Phoenix/seeallene/internal/input"
	"github.com/Finithe-Phoenix/seeallene/internal/nav"
	"github.com/Finithe-Phoenix/seeallene/internal/navd"
	"github.com/Finithe-Phoenix/seeallene/internal/ocr"
)

func main() {
	configPath := flag.String("config", "", "config file path")
	addr := flag.String("addr", "", "listen address override")
	dbPath := flag.String("db", "", "SQLite path override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *addr != "" {
		cfg.NavAddr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
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

	executor := host.NewExecutor(host.Config{
		CommandTimeout: cfg.CommandTimeout,
		RetryBackoff:   cfg.RetryBackoff,
	})
	recognizer, err := ocr.NewTesseract(ctx, executor, cfg.OCRLangs)
	if err != nil {
		fatal(err)
	}
	defer recognizer.Close() //nolint:errcheck

	frames := client.New(cfg.StreamAddr).WithSnapshotTimeout(cfg.SnapshotTimeout)
	classifier := classify.New(cfg.MarkerPairs, cfg.FingerprintRegion)
	injector := input.NewXdotool(executor)
	guard := input.NewGuard(input.GuardConfig{
		TTLDefault:   cfg.ArmTTLDefault,
		TTLMin:       cfg.ArmTTLMin,
		TTLMax:       cfg.ArmTTLMax,
		ActionLimit:  cfg.ActionLimit,
		ActionWindow: cfg.ActionWindow,
	})

	controller := nav.New(frames, recognizer, classifier, injector, nav.OptionsFromConfig(cfg), store, logger)

	srv := navd.NewServer(cfg, controller, guard, injector, store, frames, logger)
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
	_, _ = fmt.Fprintf(os.Stderr, "seeallene-navd: %v\n", err)
	os.Exit(1)
}
