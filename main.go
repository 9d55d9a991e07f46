package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"telemetry-rollup/app"
	"telemetry-rollup/config"
	"telemetry-rollup/logger"
)

func main() {
	logger.Initialize()

	// Load config from environment (.env supported)
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Get().Fatal().Err(err).Msg("❌ Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg)
	if err := application.Run(ctx); err != nil {
		// Exit code 2 distinguishes an empty analysis window from a crash
		if errors.Is(err, app.ErrEmptyResult) {
			logger.Get().Warn().Str("run_hash", cfg.RunHash).Msg("Run finished with no data")
			os.Exit(2)
		}
		logger.Get().Fatal().Err(err).Msg("❌ Analysis run failed")
	}
}
