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

	log.Info().Str("version", cfg.App.Version).Msg("Starting import worker")

	components, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize components")
	}
	defer components.Close()

	consumer, err := components.Consumer()
	if err != nil {
		log.Fatal().Err(err).Msg("Import worker needs the job queue")
	}

	editor := components.Editor(components.Trigger(false))
	importWorker := worker.NewImportWorker(cfg, components.Files, components.Storage, editor, consumer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return importWorker.Start(gctx) })
	g.Go(func() error { return components.ServeMetrics(gctx, cfg.Metrics.Addr) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Import worker failed")
	}

	log.Info().Msg("Shutting down import worker...")
	importWorker.Stop()
	log.Info().Msg("Import worker exited")
}
