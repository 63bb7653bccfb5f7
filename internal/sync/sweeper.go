package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sis-gradesync/internal/db"
	"sis-gradesync/internal/logger"
	"sis-gradesync/internal/model"
	"sis-gradesync/internal/telemetry"
)

// Trigger starts a Process run for one course and submitter, either by
// queueing a job or by running it inline.
type Trigger interface {
	Trigger(ctx context.Context, courseID, submitterID int64) error
}

// InlineTrigger runs Process in the calling goroutine.
type InlineTrigger struct {
	Service *Service
}

func (t InlineTrigger) Trigger(ctx context.Context, courseID, submitterID int64) error {
	_, err := t.Service.Process(ctx, courseID, submitterID)
	return err
}

type SweepResult struct {
	Groups    int   `json:"groups"`
	Reset     int64 `json:"reset"`
	Triggered int   `json:"triggered"`
}

// Sweeper returns RESUBMIT records to SUBMITTED once they have cooled down
// and asks for them to be processed again.
type Sweeper struct {
	store    db.RecordStore
	trigger  Trigger
	cooldown time.Duration
	metrics  *telemetry.SyncMetrics
	now      func() time.Time
	log      zerolog.Logger
}

func NewSweeper(store db.RecordStore, trigger Trigger, cooldown time.Duration, metrics *telemetry.SyncMetrics) *Sweeper {
	return &Sweeper{
		store:    store,
		trigger:  trigger,
		cooldown: cooldown,
		metrics:  metrics,
		now:      time.Now,
		log:      logger.Component("sweeper"),
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	cutoff := s.now().Add(-s.cooldown)

	groups, err := s.store.FindStuck(ctx, model.GradeStatusResubmit, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to find grades to resubmit: %w", err)
	}
	result.Groups = len(groups)

	var errs []error
	for _, g := range groups {
		log := s.log.With().Int64("course_id", g.CourseID).Int64("submitter_id", g.SubmitterID).Logger()
		log.Info().Int("count", g.Count).Msg("Resubmitting grades")

		n, err := s.store.ResetStuck(ctx, g.CourseID, g.SubmitterID, model.GradeStatusResubmit, model.GradeStatusSubmitted, cutoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result.Reset += n
		s.metrics.RecordSwept(n)

		exists, err := s.store.ExistsWithStatus(ctx, g.CourseID, g.SubmitterID, model.GradeStatusSubmitted)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !exists {
			log.Debug().Msg("Nothing submitted after reset, not triggering")
			continue
		}

		if err := s.trigger.Trigger(ctx, g.CourseID, g.SubmitterID); err != nil {
			log.Error().Err(err).Msg("Failed to trigger processing")
			errs = append(errs, err)
			continue
		}
		result.Triggered++
	}

	return result, errors.Join(errs...)
}
