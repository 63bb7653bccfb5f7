package sync

import (
	"context"
	"fmt"
	"strings"

	"sis-gradesync/internal/db"
	"sis-gradesync/internal/model"
	"sis-gradesync/internal/sis"
	pkgerrors "sis-gradesync/pkg/errors"
)

const (
	msgConnectionError = "There was an error connecting to SIS."
	msgRequestFailed   = "The grade request could not be sent to SIS."
	msgNoResponse      = "No response message received from SIS."
	msgUnknownStatus   = "SIS responded with an unknown status of %q."
)

// Tally counts records by outcome. LOCKED records count as errors. Records
// whose outcome could not be saved are only counted as Unsaved.
type Tally struct {
	Successes int `json:"successes"`
	Errors    int `json:"errors"`
	Resubmits int `json:"resubmits"`
	Unsaved   int `json:"unsaved,omitempty"`
}

func (t *Tally) add(status model.GradeStatus) {
	switch status {
	case model.GradeStatusProcessed:
		t.Successes++
	case model.GradeStatusFailed, model.GradeStatusLocked:
		t.Errors++
	case model.GradeStatusResubmit:
		t.Resubmits++
	}
}

// outcomeStatus maps the class of a SIS reply for one record to its status.
// An accepted record has no error and so ClassUnknown.
var outcomeStatus = map[pkgerrors.Class]model.GradeStatus{
	pkgerrors.ClassUnknown:   model.GradeStatusProcessed,
	pkgerrors.ClassDomain:    model.GradeStatusFailed,
	pkgerrors.ClassImmutable: model.GradeStatusLocked,
}

// severity orders the outcomes a message can produce.
func severity(status model.GradeStatus) int {
	switch status {
	case model.GradeStatusProcessed:
		return 1
	case model.GradeStatusFailed:
		return 2
	case model.GradeStatusLocked:
		return 3
	}
	return 0
}

// sendBatch sends a claimed batch and classifies every record in it. Only a
// batch that cannot be converted returns an error; everything else ends up on
// the records. Records are written with a context that outlives ctx so a
// cancelled caller cannot leave them in PROCESSING.
func (s *Service) sendBatch(ctx context.Context, batch []model.GradeRecord) (Tally, error) {
	start := s.now()

	req, err := sis.BuildGradeRequest(batch)
	if err != nil {
		s.log.Error().Err(err).Int("batch_size", len(batch)).Msg("Cannot build grade request")
		return Tally{}, err
	}

	sent := start.UTC()
	for i := range batch {
		batch[i].SISSendTime = &sent
	}

	resp, err := s.connector.SendGrades(ctx, req)
	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		class := pkgerrors.ClassOf(err)
		if !class.Recoverable() {
			s.log.Error().Err(err).Str("class", class.String()).Int("batch_size", len(batch)).
				Msg("SIS request failed, grades marked failed")
			tally := s.markAll(writeCtx, batch, model.GradeStatusFailed, msgRequestFailed)
			s.metrics.RecordBatchDuration("failed", s.now().Sub(start))
			return tally, nil
		}
		s.log.Warn().Err(err).Str("class", class.String()).Int("batch_size", len(batch)).
			Msg("SIS request failed, grades will be resubmitted")
		s.metrics.RecordTransportFailure()
		tally := s.markAll(writeCtx, batch, model.GradeStatusResubmit, msgConnectionError)
		s.metrics.RecordBatchDuration("resubmit", s.now().Sub(start))
		return tally, nil
	}

	if !resp.HasMessages() && (resp.IsConnectivityFailure == nil || *resp.IsConnectivityFailure) {
		s.log.Warn().Int("batch_size", len(batch)).Msg("SIS response has no messages, grades will be resubmitted")
		s.metrics.RecordTransportFailure()
		tally := s.markAll(writeCtx, batch, model.GradeStatusResubmit, msgConnectionError)
		s.metrics.RecordBatchDuration("resubmit", s.now().Sub(start))
		return tally, nil
	}

	var messages []model.SISMessage
	if resp.HasMessages() {
		messages = *resp.Messages
	}

	tally := s.reconcile(writeCtx, batch, messages, resp.ConnectivityFailure())
	s.metrics.RecordBatchDuration("reconciled", s.now().Sub(start))
	return tally, nil
}

// markAll moves every record of the batch to status with a failure message.
func (s *Service) markAll(ctx context.Context, batch []model.GradeRecord, status model.GradeStatus, text string) Tally {
	var tally Tally
	for i := range batch {
		rec := &batch[i]
		if err := rec.TransitionTo(status); err != nil {
			s.log.Error().Err(err).Int64("record_id", rec.ID).Msg("Cannot mark grade")
			tally.Unsaved++
			continue
		}
		rec.MarkFailure(text)
		if !s.persist(ctx, rec) {
			tally.Unsaved++
			continue
		}
		tally.add(rec.Status)
		s.metrics.RecordOutcome(rec.Status)
	}
	return tally
}

// classify turns one SIS message into a classified rejection, or nil when the
// grade was accepted. note is an extra status message for unknown statuses.
func (s *Service) classify(msg model.SISMessage) (rejection error, note string) {
	rolled := msg.Message != "" && s.isRolled(msg.Message)
	switch msg.Data.Status {
	case model.SISStatusSuccess:
		if rolled {
			return pkgerrors.NewRejectionError(true, msg.Message), ""
		}
		return nil, ""
	case model.SISStatusFailure:
		return pkgerrors.NewRejectionError(rolled, msg.Message), ""
	default:
		note = fmt.Sprintf(msgUnknownStatus, msg.Data.Status)
		return pkgerrors.NewRejectionError(rolled, note), note
	}
}

// reconcile applies SIS messages to the batch in the order received. Each
// record is saved as soon as a message for it has been applied.
func (s *Service) reconcile(ctx context.Context, batch []model.GradeRecord, messages []model.SISMessage, connectivityFailure bool) Tally {
	tracking := make(map[int]bool, len(batch))
	for i := range batch {
		tracking[i] = true
	}
	matched := make(map[int]bool)
	failed := make(map[int]bool)
	saved := make(map[int]bool)

	for _, msg := range messages {
		idx := findStudent(batch, msg.Data.StudentID)
		if idx < 0 {
			s.log.Warn().
				Str("student_external_id", msg.Data.StudentID).
				Str("status", msg.Data.Status).
				Msg("SIS message does not match any grade in the batch")
			continue
		}
		rec := &batch[idx]

		rejection, note := s.classify(msg)
		next := outcomeStatus[pkgerrors.ClassOf(rejection)]

		if !matched[idx] {
			if err := rec.TransitionTo(next); err != nil {
				s.log.Error().Err(err).Int64("record_id", rec.ID).Msg("Cannot apply SIS outcome")
				continue
			}
			matched[idx] = true
		} else if severity(next) > severity(rec.Status) {
			// Several messages for one record: keep the worst outcome.
			rec.Status = next
		}

		if msg.Data.Status != model.SISStatusSuccess && !failed[idx] {
			rec.MarkFailure("")
			failed[idx] = true
		}
		rec.AppendStatusMessage(note)
		rec.AppendStatusMessage(msg.Message)

		saved[idx] = s.persist(ctx, rec)
		delete(tracking, idx)
	}

	for i := range batch {
		if !tracking[i] {
			continue
		}
		rec := &batch[i]
		next, text := model.GradeStatusFailed, msgNoResponse
		if connectivityFailure {
			next, text = model.GradeStatusResubmit, msgConnectionError
		}
		if err := rec.TransitionTo(next); err != nil {
			s.log.Error().Err(err).Int64("record_id", rec.ID).Msg("Cannot classify unanswered grade")
			continue
		}
		rec.MarkFailure(text)
		saved[i] = s.persist(ctx, rec)
	}

	var tally Tally
	for i := range batch {
		rec := &batch[i]
		if !saved[i] {
			tally.Unsaved++
			continue
		}
		tally.add(rec.Status)
		s.metrics.RecordOutcome(rec.Status)

		event := db.EventGradeSentFailure
		if rec.Status == model.GradeStatusProcessed {
			event = db.EventGradeSentSuccess
		}
		s.events.GradeSent(ctx, event, rec)
	}
	return tally
}

// persist saves rec and reports whether the write succeeded.
func (s *Service) persist(ctx context.Context, rec *model.GradeRecord) bool {
	if err := s.store.SaveRecord(ctx, rec); err != nil {
		s.log.Error().Err(err).Int64("record_id", rec.ID).Str("status", string(rec.Status)).Msg("Failed to save grade record")
		return false
	}
	return true
}

func (s *Service) isRolled(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range s.rolledMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// findStudent returns the index of the first record for studentID, or -1.
func findStudent(batch []model.GradeRecord, studentID string) int {
	for i := range batch {
		if batch[i].StudentExternalID == studentID {
			return i
		}
	}
	return -1
}
