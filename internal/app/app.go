// Package app wires the stores, clients and services every binary shares.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"sis-gradesync/internal/config"
	"sis-gradesync/internal/db"
	"sis-gradesync/internal/grades"
	"sis-gradesync/internal/identity"
	"sis-gradesync/internal/lock"
	"sis-gradesync/internal/logger"
	"sis-gradesync/internal/notify"
	"sis-gradesync/internal/queue"
	"sis-gradesync/internal/rules"
	"sis-gradesync/internal/sis"
	"sis-gradesync/internal/storage"
	gradesync "sis-gradesync/internal/sync"
	"sis-gradesync/internal/telemetry"
)

// ErrNoQueue is returned when a queue-backed component is requested but Redis
// is not configured.
var ErrNoQueue = errors.New("redis is not configured")

type App struct {
	Config *config.Config

	DB    *sql.DB
	Redis *queue.RedisClient

	Store     db.RecordStore
	Files     db.FileRepository
	Events    db.EventSink
	Directory identity.Resolver
	Locks     lock.Service
	Storage   storage.Storage
	Notifier  notify.Notifier
	Connector sis.Connector

	Registry *prometheus.Registry
	Metrics  *telemetry.SyncMetrics

	Service *gradesync.Service

	log zerolog.Logger
}

// New connects to the configured backends. The "memory" database driver keeps
// everything in process; Redis and S3 are used only when configured.
func New(cfg *config.Config) (*App, error) {
	a := &App{
		Config:    cfg,
		Connector: sis.NewClient(cfg),
		Registry:  telemetry.NewRegistry(),
		log:       logger.Component("app"),
	}

	metrics, err := telemetry.NewSyncMetrics(a.Registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	a.Metrics = metrics

	if err := a.openDatabase(); err != nil {
		return nil, err
	}

	if cfg.Redis.Host != "" {
		redisClient, err := queue.NewRedisClient(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = redisClient
		a.Locks = lock.NewRedisService(redisClient.Client(), cfg.Redis.LockPrefix)
	} else {
		a.log.Warn().Msg("Redis not configured, using in-process locks")
		a.Locks = lock.NewMemoryService()
	}

	if cfg.Storage.S3.Bucket != "" {
		s3Storage, err := storage.NewS3Storage(cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		a.Storage = s3Storage
	} else {
		a.Storage = storage.NewMemoryStorage()
	}

	switch cfg.Notify.Provider {
	case "sendgrid":
		a.Notifier = notify.NewMailNotifier(cfg, a.Directory)
	default:
		a.Notifier = notify.NewLogNotifier()
	}

	a.Service = gradesync.NewService(cfg, a.Store, a.Locks, a.Connector, a.Directory, a.Notifier, a.Events, a.Metrics)
	return a, nil
}

func (a *App) openDatabase() error {
	if a.Config.Database.Driver == "memory" {
		a.log.Warn().Msg("Using in-memory database")
		a.Store = db.NewMemoryRecordStore()
		a.Files = db.NewMemoryFileRepository()
		a.Events = db.NewLogEventSink()
		a.Directory = identity.NewMemoryDirectory()
		return nil
	}

	database, err := db.NewConnection(a.Config)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = database
	a.Store = db.NewRepository(database)
	a.Files = db.NewFileRepository(database)
	a.Events = db.NewEventSink(database)
	a.Directory = identity.NewDirectory(database)
	return nil
}

// Producer returns the job producer, or ErrNoQueue without Redis.
func (a *App) Producer() (*queue.Producer, error) {
	if a.Redis == nil {
		return nil, ErrNoQueue
	}
	return queue.NewProducer(a.Redis, a.Config), nil
}

// Consumer returns the job consumer, or ErrNoQueue without Redis.
func (a *App) Consumer() (*queue.Consumer, error) {
	if a.Redis == nil {
		return nil, ErrNoQueue
	}
	return queue.NewConsumer(a.Redis, a.Config), nil
}

// Trigger picks how submitted grades get processed: through the queue when
// Redis is configured, otherwise inline.
func (a *App) Trigger(inline bool) gradesync.Trigger {
	if !inline {
		if producer, err := a.Producer(); err == nil {
			return producer
		}
	}
	return gradesync.InlineTrigger{Service: a.Service}
}

func (a *App) Editor(trigger gradesync.Trigger) *grades.Editor {
	return grades.NewEditor(a.Store, a.Directory, rules.NewValidator(a.Config.Rules), trigger)
}

func (a *App) Sweeper(trigger gradesync.Trigger) *gradesync.Sweeper {
	return gradesync.NewSweeper(a.Store, trigger, a.Config.Sweep.Cooldown, a.Metrics)
}

// Migrate applies the schema. It is a no-op for the memory driver.
func (a *App) Migrate(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return db.Migrate(ctx, a.DB)
}

// ServeMetrics exposes /metrics on addr until ctx is done. An empty addr
// disables the listener.
func (a *App) ServeMetrics(ctx context.Context, addr string) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler(a.Registry))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	a.log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Close() {
	if c, ok := a.Notifier.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to flush notifications")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
