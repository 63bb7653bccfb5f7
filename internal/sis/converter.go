package sis

import (
	"fmt"
	"time"

	"sis-gradesync/internal/model"
	"sis-gradesync/pkg/errors"
)

// BuildGradeRequest converts a batch of records from one submitter into a
// single SIS request.
func BuildGradeRequest(records []model.GradeRecord) (*model.GradeRequest, error) {
	if len(records) == 0 {
		return nil, errors.ErrEmptyBatch
	}

	submitter := records[0].SubmitterExternalID
	req := &model.GradeRequest{
		ModifiedBy:    submitter,
		StudentGrades: make([]model.StudentGrade, 0, len(records)),
	}

	for i := range records {
		rec := &records[i]
		if rec.SubmitterExternalID != submitter {
			return nil, errors.NewInvariantError(errors.ErrSubmitterMismatch,
				fmt.Sprintf("record %d has %q, batch has %q", rec.ID, rec.SubmitterExternalID, submitter))
		}

		entry, err := studentGrade(rec)
		if err != nil {
			return nil, err
		}
		req.StudentGrades = append(req.StudentGrades, entry)
	}

	return req, nil
}

func studentGrade(rec *model.GradeRecord) (model.StudentGrade, error) {
	entry := model.StudentGrade{
		CourseID:  rec.CourseExternalID,
		StudentID: rec.StudentExternalID,
	}

	grade := rec.Grade
	switch rec.GradeKind {
	case model.GradeKindMidterm1:
		entry.MidtermGrade1 = &grade
	case model.GradeKindMidterm2:
		entry.MidtermGrade2 = &grade
	case model.GradeKindMidterm3:
		entry.MidtermGrade3 = &grade
	case model.GradeKindMidterm4:
		entry.MidtermGrade4 = &grade
	case model.GradeKindMidterm5:
		entry.MidtermGrade5 = &grade
	case model.GradeKindMidterm6:
		entry.MidtermGrade6 = &grade
	case model.GradeKindFinal:
		entry.FinalGrade = &grade
	default:
		return entry, errors.NewInvariantError(errors.ErrUnknownGradeKind,
			fmt.Sprintf("record %d has grade kind %d", rec.ID, rec.GradeKind))
	}

	if rec.LastAttended != nil {
		entry.LastAttendanceDate = formatDate(*rec.LastAttended)
	}
	if rec.IncompleteGrade != nil {
		entry.DefaultIncompleteGrade = *rec.IncompleteGrade
	}
	if rec.IncompleteDeadline != nil {
		entry.FinalGradeExpirationDate = formatDate(*rec.IncompleteDeadline)
	}

	return entry, nil
}

func formatDate(t time.Time) string {
	return t.Format(time.RFC3339)
}
