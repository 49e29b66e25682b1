package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-engine/internal/config"
	"github.com/enterprise/risk-engine/internal/scoring"
	"github.com/enterprise/risk-engine/internal/wiring"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Int("shards", cfg.Worker.ShardCount).
		Msg("starting risk engine worker")

	app, err := wiring.Build(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire application")
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go app.GraphRefresher.Run(ctx)
	go app.AutoAccept.Run(ctx)
	go app.WeightAdjuster.Run(ctx)
	go app.SilenceDetector.Run(ctx)

	pool := scoring.NewWorkerPool(app.Engine, app.StreamClient, cfg.Worker)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- pool.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("worker pool error")
		}
	}

	pool.Stop()
	log.Info().Msg("worker shutdown complete")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
