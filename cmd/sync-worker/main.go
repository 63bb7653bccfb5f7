package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"sis-gradesync/internal/app"
	"sis-gradesync/internal/config"
	"sis-gradesync/internal/logger"
	"sis-gradesync/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Get()

	log.Info().Str("version", cfg.App.Version).Msg("Starting sync worker")

	components, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize components")
	}
	defer components.Close()

	consumer, err := components.Consumer()
	if err != nil {
		log.Fatal().Err(err).Msg("Sync worker needs the job queue")
	}

	syncWorker := worker.NewSyncWorker(cfg, components.Service, consumer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return syncWorker.Start(gctx) })
	g.Go(func() error { return components.ServeMetrics(gctx, cfg.Metrics.Addr) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Sync worker failed")
	}

	log.Info().Msg("Shutting down sync worker...")
	syncWorker.Stop()
	log.Info().Msg("Sync worker exited")
}
