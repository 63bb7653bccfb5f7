// Package sync sends submitted grades to the SIS and records the outcome on
// every grade record.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sis-gradesync/internal/config"
	"sis-gradesync/internal/db"
	"sis-gradesync/internal/identity"
	"sis-gradesync/internal/lock"
	"sis-gradesync/internal/logger"
	"sis-gradesync/internal/model"
	"sis-gradesync/internal/notify"
	"sis-gradesync/internal/sis"
	"sis-gradesync/internal/telemetry"
	pkgerrors "sis-gradesync/pkg/errors"
)

// ProcessResult describes one Process call.
type ProcessResult struct {
	Groups []GroupResult `json:"groups"`
	// Skipped lists external course ids whose lock was held by someone else.
	Skipped []string `json:"skipped,omitempty"`
}

type GroupResult struct {
	CourseExternalID string `json:"course_external_id"`
	Claimed          int    `json:"claimed"`
	Tally            Tally  `json:"tally"`
}

// Total sums the tallies of every group.
func (r *ProcessResult) Total() Tally {
	var t Tally
	for _, g := range r.Groups {
		t.Successes += g.Tally.Successes
		t.Errors += g.Tally.Errors
		t.Resubmits += g.Tally.Resubmits
		t.Unsaved += g.Tally.Unsaved
	}
	return t
}

type Service struct {
	store     db.RecordStore
	locks     lock.Service
	connector sis.Connector
	directory identity.Resolver
	notifier  notify.Notifier
	events    db.EventSink
	metrics   *telemetry.SyncMetrics

	lockWait      time.Duration
	lockTTL       time.Duration
	rolledMarkers []string

	now func() time.Time
	log zerolog.Logger
}

func NewService(
	cfg *config.Config,
	store db.RecordStore,
	locks lock.Service,
	connector sis.Connector,
	directory identity.Resolver,
	notifier notify.Notifier,
	events db.EventSink,
	metrics *telemetry.SyncMetrics,
) *Service {
	return &Service{
		store:         store,
		locks:         locks,
		connector:     connector,
		directory:     directory,
		notifier:      notifier,
		events:        events,
		metrics:       metrics,
		lockWait:      cfg.Sync.LockWait,
		lockTTL:       cfg.Sync.LockTTL,
		rolledMarkers: cfg.SIS.RolledMarkers,
		now:           time.Now,
		log:           logger.Component("sync"),
	}
}

// Process sends every SUBMITTED record of one submitter in one course. Each
// external course group is claimed under its own lock and handled
// independently. Only invariant violations abort the call; lock service and
// store failures are collected and returned after all groups ran.
func (s *Service) Process(ctx context.Context, courseID, submitterID int64) (*ProcessResult, error) {
	log := s.log.With().Int64("course_id", courseID).Int64("submitter_id", submitterID).Logger()
	result := &ProcessResult{}

	groups, err := s.store.FindPendingCourseGroups(ctx, courseID, submitterID, model.GradeStatusSubmitted)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending grades: %w", err)
	}
	if len(groups) == 0 {
		log.Debug().Msg("No submitted grades")
		return result, nil
	}

	submitterExternalID, err := s.directory.UserExternalID(ctx, submitterID)
	if err != nil {
		log.Error().Err(err).Msg("Submitter has no external id")
		return nil, pkgerrors.NewInvariantError(err, fmt.Sprintf("submitter %d", submitterID))
	}

	log.Info().Strs("groups", groups).Msg("Processing submitted grades")

	var errs []error
	for _, group := range groups {
		gr, err := s.processGroup(ctx, courseID, submitterID, submitterExternalID, group)
		if pkgerrors.ClassOf(err) == pkgerrors.ClassContention {
			log.Info().Str("course_external_id", group).Msg("Course is locked by another process, skipping")
			s.metrics.RecordLockContention()
			result.Skipped = append(result.Skipped, group)
			continue
		}
		if gr != nil {
			result.Groups = append(result.Groups, *gr)
		}
		if err == nil {
			continue
		}
		if pkgerrors.IsInvariant(err) {
			return result, err
		}
		log.Error().Err(err).Str("course_external_id", group).Msg("Failed to process course group")
		errs = append(errs, err)
	}

	total := result.Total()
	log.Info().
		Int("successes", total.Successes).
		Int("errors", total.Errors).
		Int("resubmits", total.Resubmits).
		Int("skipped", len(result.Skipped)).
		Msg("Finished processing submitted grades")

	return result, errors.Join(errs...)
}

func (s *Service) processGroup(ctx context.Context, courseID, submitterID int64, submitterExternalID, courseExternalID string) (*GroupResult, error) {
	batch, claimErr := s.claim(ctx, courseID, submitterExternalID, courseExternalID)
	if len(batch) == 0 {
		return nil, claimErr
	}

	gr := &GroupResult{CourseExternalID: courseExternalID, Claimed: len(batch)}

	tally, err := s.sendBatch(ctx, batch)
	gr.Tally = tally
	if err != nil {
		s.log.Error().Err(err).
			Str("course_external_id", courseExternalID).
			Ints64("record_ids", recordIDs(batch)).
			Msg("Claimed grades were not sent and remain PROCESSING")
		return gr, err
	}

	s.notifier.GradesSent(ctx, notify.Summary{
		CourseID:         courseID,
		CourseExternalID: courseExternalID,
		SubmitterID:      submitterID,
		Successes:        tally.Successes,
		Errors:           tally.Errors,
		Resubmits:        tally.Resubmits,
	})

	if tally.Unsaved > 0 {
		claimErr = errors.Join(claimErr, fmt.Errorf("%d grade records for %s could not be saved", tally.Unsaved, courseExternalID))
	}
	return gr, claimErr
}

// claim moves the group's SUBMITTED records to PROCESSING while holding the
// course lock. The returned records are owned by this call. A store error part
// way through is returned together with the records already claimed.
func (s *Service) claim(ctx context.Context, courseID int64, submitterExternalID, courseExternalID string) ([]model.GradeRecord, error) {
	l, err := s.locks.Acquire(ctx, lock.CourseKey(courseExternalID), s.lockWait, s.lockTTL)
	if err != nil {
		if pkgerrors.ClassOf(err) == pkgerrors.ClassContention {
			return nil, err
		}
		return nil, fmt.Errorf("lock service unavailable for %s: %w", courseExternalID, err)
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn().Err(err).Str("lock", l.Key()).Msg("Failed to release lock, it will expire")
		}
	}()

	records, err := s.store.FindByStatus(ctx, db.RecordQuery{
		CourseID:            courseID,
		SubmitterExternalID: submitterExternalID,
		CourseExternalID:    courseExternalID,
		Status:              model.GradeStatusSubmitted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load submitted grades for %s: %w", courseExternalID, err)
	}

	// Once the first record is claimed the rest must follow even if ctx is
	// cancelled; sendBatch then resubmits them.
	writeCtx := context.WithoutCancel(ctx)
	claimed := make([]model.GradeRecord, 0, len(records))
	for i := range records {
		rec := records[i]
		if err := rec.TransitionTo(model.GradeStatusProcessing); err != nil {
			return claimed, err
		}
		if err := s.store.SaveRecord(writeCtx, &rec); err != nil {
			return claimed, fmt.Errorf("failed to claim grade record %d: %w", rec.ID, err)
		}
		claimed = append(claimed, rec)
	}

	s.log.Debug().Str("course_external_id", courseExternalID).Int("claimed", len(claimed)).Msg("Claimed grades")
	return claimed, nil
}

func recordIDs(batch []model.GradeRecord) []int64 {
	ids := make([]int64, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID
	}
	return ids
}
