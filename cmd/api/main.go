package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"sis-gradesync/internal/api"
	"sis-gradesync/internal/app"
	"sis-gradesync/internal/config"
	"sis-gradesync/internal/logger"
	"sis-gradesync/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Get()

	log.Info().Str("version", cfg.App.Version).Msg("Starting API server")

	components, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize components")
	}
	defer components.Close()

	producer, err := components.Producer()
	if err != nil {
		log.Fatal().Err(err).Msg("API server needs the job queue")
	}

	editor := components.Editor(producer)
	handler := api.NewHandler(editor, components.Store, components.Files, components.Storage, producer, cfg)

	router := api.NewRouter(cfg.App.Env)
	api.SetupRoutes(router, handler, telemetry.Handler(components.Registry))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
