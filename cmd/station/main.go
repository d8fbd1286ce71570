package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"canairio/station-agent/internal/app"
	"canairio/station-agent/internal/config"
)

// exitRestart asks the supervisor to restart the agent.
const exitRestart = 3

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	station, cleanup, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start station", "error", err)
		os.Exit(1)
	}

	err = station.Run(ctx)
	cleanup()
	if errors.Is(err, app.ErrRestartRequired) {
		logger.Error("restarting station", "error", err)
		os.Exit(exitRestart)
	}
	if err != nil {
		logger.Error("station terminated", "error", err)
		os.Exit(1)
	}

	logger.Info("station stopped cleanly")
}

func logLevel(level string) slog.Leveler {
	var lvl slog.Level

	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	lv := new(slog.LevelVar)
	lv.Set(lvl)
	return lv
}
