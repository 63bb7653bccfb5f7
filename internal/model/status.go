package model

import (
	"fmt"

	"sis-gradesync/pkg/errors"
)

type GradeStatus string

const (
	GradeStatusEditing    GradeStatus = "EDITING"
	GradeStatusSubmitted  GradeStatus = "SUBMITTED"
	GradeStatusProcessing GradeStatus = "PROCESSING"
	GradeStatusProcessed  GradeStatus = "PROCESSED"
	GradeStatusFailed     GradeStatus = "FAILED"
	GradeStatusLocked     GradeStatus = "LOCKED"
	GradeStatusResubmit   GradeStatus = "RESUBMIT"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []GradeStatus{
	GradeStatusEditing,
	GradeStatusSubmitted,
	GradeStatusProcessing,
	GradeStatusProcessed,
	GradeStatusFailed,
	GradeStatusLocked,
	GradeStatusResubmit,
}

// transitions is the whole state machine. PROCESSING never goes straight back
// to SUBMITTED; it has to be classified first.
var transitions = map[GradeStatus][]GradeStatus{
	GradeStatusEditing:    {GradeStatusSubmitted},
	GradeStatusSubmitted:  {GradeStatusProcessing},
	GradeStatusProcessing: {GradeStatusProcessed, GradeStatusFailed, GradeStatusLocked, GradeStatusResubmit},
	GradeStatusResubmit:   {GradeStatusSubmitted},
}

func (s GradeStatus) Valid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

func (s GradeStatus) CanTransitionTo(next GradeStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal statuses need a new revision before the grade can be sent again.
func (s GradeStatus) Terminal() bool {
	return s == GradeStatusProcessed || s == GradeStatusFailed || s == GradeStatusLocked
}

// InFlight statuses are owned by the synchronizer.
func (s GradeStatus) InFlight() bool {
	return s == GradeStatusSubmitted || s == GradeStatusProcessing || s == GradeStatusResubmit
}

func ParseGradeStatus(v string) (GradeStatus, error) {
	s := GradeStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown grade status %q", v)
	}
	return s, nil
}

func transitionError(from, to GradeStatus) error {
	return fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, from, to)
}
