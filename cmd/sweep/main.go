// Command sweep evaluates every armed alert against current prices once
// and exits. It is meant for cron-style schedulers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"pricewatch/internal/config"
	"pricewatch/internal/logger"
	"pricewatch/internal/processor"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	envFile := os.Getenv("PRICEWATCH_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}

	cfg, err := config.Load(ctx, envFile)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg.LogLevel, cfg.Env)

	sum, err := processor.New(cfg).RunSweep(ctx)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("sweep failed")
		os.Exit(1)
	}

	logger.Logger.Info().
		Int("alerts", sum.Alerts).
		Int("triggered", sum.Triggered).
		Int("delivered", sum.Delivered).
		Int("failed", sum.Failed).
		Int("redelivered", sum.Redelivered).
		Msg("sweep finished")
}
