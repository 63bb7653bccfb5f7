package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"sis-gradesync/internal/logger"
	"sis-gradesync/internal/model"
)

const (
	EventGradeSentSuccess = "grade_sent_success"
	EventGradeSentFailure = "grade_sent_failure"
)

// EventSink records audit events for grades that reached a state after a send.
// Implementations never fail the caller.
type EventSink interface {
	GradeSent(ctx context.Context, event string, rec *model.GradeRecord)
}

type mysqlEventSink struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewEventSink(db *sql.DB) EventSink {
	return &mysqlEventSink{db: db, log: logger.Component("events")}
}

func (s *mysqlEventSink) GradeSent(ctx context.Context, event string, rec *model.GradeRecord) {
	query := `INSERT INTO grade_events (record_id, course_id, student_id, course_external_id,
		event, status, grade, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var message sql.NullString
	if n := len(rec.StatusMessages); n > 0 {
		message = sql.NullString{String: rec.StatusMessages[n-1], Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query, rec.ID, rec.CourseID, rec.StudentID, rec.CourseExternalID,
		event, rec.Status, rec.Grade, message, time.Now().UTC())
	if err != nil {
		s.log.Warn().Err(err).Int64("record_id", rec.ID).Str("event", event).Msg("Failed to record grade event")
	}
}

type logEventSink struct {
	log zerolog.Logger
}

// NewLogEventSink writes events to the log only.
func NewLogEventSink() EventSink {
	return &logEventSink{log: logger.Component("events")}
}

func (s *logEventSink) GradeSent(_ context.Context, event string, rec *model.GradeRecord) {
	s.log.Info().
		Str("event", event).
		Int64("record_id", rec.ID).
		Int64("course_id", rec.CourseID).
		Int64("student_id", rec.StudentID).
		Str("status", string(rec.Status)).
		Msg("Grade event")
}
