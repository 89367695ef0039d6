package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/a-essam23/chatrelay/internal/auth"
	"github.com/a-essam23/chatrelay/internal/collab"
	"github.com/a-essam23/chatrelay/internal/server"
	"github.com/a-essam23/chatrelay/internal/store"
	"github.com/a-essam23/chatrelay/pkg/config"
	"github.com/a-essam23/chatrelay/pkg/logging"
)

func main() {
	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = logging.NewWithWriter(os.Stdout, logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	slog.SetDefault(logger)

	db, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	dir := collab.NewGuarded(db, collab.BreakerSettings{
		Name:                "store",
		MaxRequests:         cfg.Breaker.MaxRequests,
		Interval:            cfg.Breaker.Interval,
		Timeout:             cfg.Breaker.Timeout,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := server.NewApp(ctx, logger, cfg, dir, auth.NewJWTVerifier(cfg.Server.Auth.JWTSecret))
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		db.Close()
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
