package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"sis-gradesync/internal/config"
	"sis-gradesync/internal/logger"
	"sis-gradesync/internal/model"
	"sis-gradesync/internal/queue"
	gradesync "sis-gradesync/internal/sync"
)

// Processor runs the synchronizer for one course and submitter.
type Processor interface {
	Process(ctx context.Context, courseID, submitterID int64) (*gradesync.ProcessResult, error)
}

type SyncWorker struct {
	cfg        *config.Config
	processor  Processor
	consumer   *queue.Consumer
	workerPool *WorkerPool
	log        zerolog.Logger
}

func NewSyncWorker(
	cfg *config.Config,
	processor Processor,
	consumer *queue.Consumer,
) *SyncWorker {
	return &SyncWorker{
		cfg:        cfg,
		processor:  processor,
		consumer:   consumer,
		workerPool: NewWorkerPool(cfg.Workers.Sync.Count),
		log:        logger.Component("sync_worker"),
	}
}

func (w *SyncWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Starting sync worker")

	w.workerPool.Start(ctx)

	return w.consumer.ConsumeProcessQueue(ctx, w.handleMessage)
}

func (w *SyncWorker) Stop() {
	w.log.Info().Msg("Stopping sync worker")
	w.workerPool.Stop()
}

func (w *SyncWorker) handleMessage(ctx context.Context, data []byte) error {
	var job model.ProcessJob
	if err := json.Unmarshal(data, &job); err != nil {
		w.log.Error().Err(err).Msg("Failed to unmarshal process job")
		return err
	}
	if job.CourseID <= 0 || job.SubmitterID <= 0 {
		return fmt.Errorf("process job %q: course_id and submitter_id are required", job.JobID)
	}

	w.log.Info().
		Str("job_id", job.JobID).
		Int64("course_id", job.CourseID).
		Int64("submitter_id", job.SubmitterID).
		Msg("Processing grade job")

	return w.workerPool.Submit(ctx, func(ctx context.Context) error {
		return w.process(ctx, job)
	})
}

func (w *SyncWorker) process(ctx context.Context, job model.ProcessJob) error {
	log := w.log.With().Str("job_id", job.JobID).Logger()

	result, err := w.processor.Process(ctx, job.CourseID, job.SubmitterID)
	if result != nil {
		total := result.Total()
		log.Info().
			Int("groups", len(result.Groups)).
			Int("skipped", len(result.Skipped)).
			Int("successes", total.Successes).
			Int("errors", total.Errors).
			Int("resubmits", total.Resubmits).
			Int("unsaved", total.Unsaved).
			Msg("Grade job finished")
	}
	if err != nil {
		return fmt.Errorf("process job %s: %w", job.JobID, err)
	}
	return nil
}
