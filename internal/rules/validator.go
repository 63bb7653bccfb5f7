// Package rules checks a grade entry before it may be submitted.
package rules

import (
	"strings"
	"time"

	"sis-gradesync/internal/config"
	"sis-gradesync/internal/model"
	"sis-gradesync/pkg/errors"
)

const (
	FieldGrade              = "grade"
	FieldLastAttended       = "last_attended"
	FieldIncompleteGrade    = "incomplete_grade"
	FieldIncompleteDeadline = "incomplete_deadline"
)

type Validator struct {
	failing           []string
	incomplete        []string
	defaultIncomplete string
	window            time.Duration
	now               func() time.Time
}

func NewValidator(cfg config.RulesConfig) *Validator {
	return &Validator{
		failing:           cfg.FailingGrades,
		incomplete:        cfg.IncompleteGrades,
		defaultIncomplete: cfg.DefaultIncompleteGrade,
		window:            cfg.IncompleteWindow,
		now:               time.Now,
	}
}

// Validate returns the problems with row keyed by field, or nil.
func (v *Validator) Validate(row *model.GradeRow, course *model.Course) errors.FieldErrors {
	errs := errors.FieldErrors{}

	if row.Confirmed && strings.TrimSpace(row.Grade) == "" {
		errs[FieldGrade] = "A valid grade must be selected."
	}

	if contains(v.failing, row.Grade) {
		switch {
		case row.LastAttended == nil:
			errs[FieldLastAttended] = "Date last attended must be entered for a failing student."
		case dayAfter(*row.LastAttended, v.now()):
			errs[FieldLastAttended] = "Date last attended cannot be later than today."
		case dayAfter(course.StartDate, *row.LastAttended):
			errs[FieldLastAttended] = "Date last attended cannot be before the start of the course."
		case dayAfter(*row.LastAttended, course.EndDate):
			errs[FieldLastAttended] = "Date last attended cannot be after the end of the course."
		}
	}

	if contains(v.incomplete, row.Grade) {
		switch {
		case row.IncompleteGrade == nil || *row.IncompleteGrade == "":
			errs[FieldIncompleteGrade] = "A default incomplete grade must be selected."
		case !strings.EqualFold(*row.IncompleteGrade, v.defaultIncomplete):
			errs[FieldIncompleteGrade] = "Default incomplete grade cannot be changed from the default."
		}

		latest := course.EndDate.Add(v.window)
		switch {
		case row.IncompleteDeadline == nil:
			errs[FieldIncompleteDeadline] = "Incomplete deadline must be entered for an incomplete grade."
		case dayAfter(course.EndDate, *row.IncompleteDeadline):
			errs[FieldIncompleteDeadline] = "Incomplete deadline cannot be before the end of the course."
		case dayAfter(*row.IncompleteDeadline, latest):
			errs[FieldIncompleteDeadline] = "Incomplete deadline cannot be more than a year after the course ends."
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func contains(list []string, grade string) bool {
	for _, g := range list {
		if strings.EqualFold(g, grade) {
			return true
		}
	}
	return false
}

// dayAfter reports whether a falls on a later calendar day than b.
func dayAfter(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}
