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

	cfg, err := config.Load(ctx, envFile())
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg.LogLevel, cfg.Env)

	if err := processor.New(cfg).Run(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("processor exited")
		os.Exit(1)
	}
	logger.Logger.Info().Msg("exited")
}

func envFile() string {
	if f := os.Getenv("PRICEWATCH_ENV_FILE"); f != "" {
		return f
	}
	return ".env"
}
