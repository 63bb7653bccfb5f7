package worker

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"sis-gradesync/internal/config"
	"sis-gradesync/internal/logger"
	gradesync "sis-gradesync/internal/sync"
)

// Sweeper is the part of the recovery sweeper the schedule drives.
type Sweeper interface {
	Sweep(ctx context.Context) (gradesync.SweepResult, error)
}

// SweepWorker runs the recovery sweep on a cron schedule.
type SweepWorker struct {
	cfg     *config.Config
	sweeper Sweeper
	cron    *cron.Cron
	log     zerolog.Logger
}

func NewSweepWorker(cfg *config.Config, sweeper Sweeper) *SweepWorker {
	return &SweepWorker{
		cfg:     cfg,
		sweeper: sweeper,
		cron:    cron.New(),
		log:     logger.Component("sweep_worker"),
	}
}

// Start schedules the sweep and blocks until ctx is done. Runs never overlap;
// a tick that arrives while a sweep is running is skipped.
func (w *SweepWorker) Start(ctx context.Context) error {
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		w.RunOnce(ctx)
	}))

	if _, err := w.cron.AddJob(w.cfg.Sweep.Schedule, job); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", w.cfg.Sweep.Schedule, err)
	}

	w.log.Info().Str("schedule", w.cfg.Sweep.Schedule).Msg("Starting sweep worker")
	w.cron.Start()

	<-ctx.Done()
	return ctx.Err()
}

// Stop waits for a running sweep to finish.
func (w *SweepWorker) Stop() {
	w.log.Info().Msg("Stopping sweep worker")
	<-w.cron.Stop().Done()
}

func (w *SweepWorker) RunOnce(ctx context.Context) {
	result, err := w.sweeper.Sweep(ctx)
	log := w.log.Info()
	if err != nil {
		log = w.log.Error().Err(err)
	}
	log.Int("groups", result.Groups).
		Int64("reset", result.Reset).
		Int("triggered", result.Triggered).
		Msg("Sweep finished")
}
