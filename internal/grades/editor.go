// Package grades handles grade entry: saving edits as revisions and
// submitting confirmed grades for synchronization.
package grades

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"sis-gradesync/internal/db"
	"sis-gradesync/internal/identity"
	"sis-gradesync/internal/logger"
	"sis-gradesync/internal/model"
	"sis-gradesync/internal/rules"
	gradesync "sis-gradesync/internal/sync"
	pkgerrors "sis-gradesync/pkg/errors"
)

type Editor struct {
	store     db.RecordStore
	directory identity.Resolver
	rules     *rules.Validator
	trigger   gradesync.Trigger
	validate  *validator.Validate
	now       func() time.Time
	log       zerolog.Logger
}

func NewEditor(store db.RecordStore, directory identity.Resolver, ruleSet *rules.Validator, trigger gradesync.Trigger) *Editor {
	return &Editor{
		store:     store,
		directory: directory,
		rules:     ruleSet,
		trigger:   trigger,
		validate:  validator.New(),
		now:       time.Now,
		log:       logger.Component("grades"),
	}
}

// Save stores one grade row for submitterID. A row in EDITING is updated in
// place; a row whose last revision is final gets a new revision when the data
// changed or the row is confirmed. A confirmed row that passes the rules is
// moved to SUBMITTED and processing is triggered.
func (e *Editor) Save(ctx context.Context, submitterID int64, row model.GradeRow) (*model.SaveGradeResponse, error) {
	if err := e.validate.Struct(&row); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrSchemaValidation, err)
	}

	log := e.log.With().
		Int64("course_id", row.CourseID).
		Int64("student_id", row.StudentID).
		Int("grade_kind", int(row.GradeKind)).
		Logger()

	course, err := e.directory.Course(ctx, row.CourseID)
	if err != nil {
		return nil, err
	}

	current, err := e.store.FindCurrent(ctx, row.CourseID, row.StudentID, row.GradeKind)
	if err != nil && !errors.Is(err, pkgerrors.ErrRecordNotFound) {
		return nil, err
	}

	var rec *model.GradeRecord
	switch {
	case current == nil:
		rec = &model.GradeRecord{Revision: 0}
	case current.Status == model.GradeStatusEditing:
		rec = current
	case current.Status.InFlight():
		return nil, fmt.Errorf("%w: revision %d is %s", pkgerrors.ErrRecordInFlight, current.Revision, current.Status)
	default:
		candidate := newPayload(row)
		candidate.CourseExternalID = current.CourseExternalID
		candidate.StudentExternalID = current.StudentExternalID
		if !row.Confirmed && candidate.SamePayload(current) {
			log.Debug().Int("revision", current.Revision).Msg("Grade unchanged")
			return &model.SaveGradeResponse{Record: current}, nil
		}
		rec = &model.GradeRecord{Revision: current.Revision + 1}
	}

	if rec.ID == 0 {
		if err := e.resolveIdentity(ctx, rec, row, submitterID); err != nil {
			return nil, err
		}
		rec.Status = model.GradeStatusEditing
	} else if rec.SubmitterID != submitterID {
		submitterExternalID, err := e.directory.UserExternalID(ctx, submitterID)
		if err != nil {
			return nil, err
		}
		rec.SubmitterID = submitterID
		rec.SubmitterExternalID = submitterExternalID
	}
	applyPayload(rec, row)

	fieldErrs := e.rules.Validate(&row, course)
	submit := row.Confirmed && fieldErrs == nil
	if submit {
		if err := rec.TransitionTo(model.GradeStatusSubmitted); err != nil {
			return nil, err
		}
		submitted := e.now().UTC()
		rec.UserSubmitTime = &submitted
	}

	if err := e.save(ctx, rec); err != nil {
		return nil, err
	}
	log.Info().Int("revision", rec.Revision).Str("status", string(rec.Status)).Msg("Grade saved")

	if submit {
		if err := e.trigger.Trigger(ctx, rec.CourseID, submitterID); err != nil {
			log.Error().Err(err).Msg("Failed to trigger grade processing")
		}
	}

	resp := &model.SaveGradeResponse{Record: rec}
	if fieldErrs != nil {
		resp.Errors = fieldErrs
	}
	return resp, nil
}

// save inserts a new revision, or updates the EDITING one only if nothing has
// moved it on since it was read.
func (e *Editor) save(ctx context.Context, rec *model.GradeRecord) error {
	if rec.ID == 0 {
		return e.store.SaveRecord(ctx, rec)
	}
	err := e.store.SaveRecordIf(ctx, rec, model.GradeStatusEditing)
	if errors.Is(err, pkgerrors.ErrStatusConflict) {
		return fmt.Errorf("%w: %w", pkgerrors.ErrRecordInFlight, err)
	}
	return err
}

// History returns every revision of one grade, oldest first.
func (e *Editor) History(ctx context.Context, courseID, studentID int64, kind model.GradeKind) ([]model.GradeRecord, error) {
	return e.store.ListRevisions(ctx, courseID, studentID, kind)
}

func (e *Editor) resolveIdentity(ctx context.Context, rec *model.GradeRecord, row model.GradeRow, submitterID int64) error {
	courseExternalID, err := e.directory.CourseExternalID(ctx, row.CourseID, row.StudentID)
	if err != nil {
		return err
	}
	studentExternalID, err := e.directory.UserExternalID(ctx, row.StudentID)
	if err != nil {
		return err
	}
	submitterExternalID, err := e.directory.UserExternalID(ctx, submitterID)
	if err != nil {
		return err
	}

	rec.CourseID = row.CourseID
	rec.StudentID = row.StudentID
	rec.GradeKind = row.GradeKind
	rec.SubmitterID = submitterID
	rec.CourseExternalID = courseExternalID
	rec.StudentExternalID = studentExternalID
	rec.SubmitterExternalID = submitterExternalID
	return nil
}

func newPayload(row model.GradeRow) *model.GradeRecord {
	rec := &model.GradeRecord{CourseID: row.CourseID, StudentID: row.StudentID, GradeKind: row.GradeKind}
	applyPayload(rec, row)
	return rec
}

func applyPayload(rec *model.GradeRecord, row model.GradeRow) {
	rec.Grade = row.Grade
	rec.IncompleteGrade = row.IncompleteGrade
	rec.IncompleteDeadline = row.IncompleteDeadline
	rec.LastAttended = row.LastAttended
	rec.Confirmed = row.Confirmed
}
