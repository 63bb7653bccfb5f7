package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sis-gradesync/internal/model"
	pkgerrors "sis-gradesync/pkg/errors"
)

// RecordQuery filters grade records. Zero-valued fields are ignored.
type RecordQuery struct {
	CourseID            int64
	SubmitterID         int64
	SubmitterExternalID string
	CourseExternalID    string
	Status              model.GradeStatus
}

// RecordStore persists grade records. Every write is a single-record upsert
// except ResetStuck, which is one conditional statement.
type RecordStore interface {
	SaveRecord(ctx context.Context, rec *model.GradeRecord) error
	// SaveRecordIf updates an existing record only while its stored status is
	// still expected, and returns errors.ErrStatusConflict otherwise.
	SaveRecordIf(ctx context.Context, rec *model.GradeRecord, expected model.GradeStatus) error
	FindCurrent(ctx context.Context, courseID, studentID int64, kind model.GradeKind) (*model.GradeRecord, error)
	ListRevisions(ctx context.Context, courseID, studentID int64, kind model.GradeKind) ([]model.GradeRecord, error)
	FindPendingCourseGroups(ctx context.Context, courseID, submitterID int64, status model.GradeStatus) ([]string, error)
	FindByStatus(ctx context.Context, q RecordQuery) ([]model.GradeRecord, error)
	FindStuck(ctx context.Context, status model.GradeStatus, olderThan time.Time) ([]model.StuckGroup, error)
	ResetStuck(ctx context.Context, courseID, submitterID int64, from, to model.GradeStatus, olderThan time.Time) (int64, error)
	ExistsWithStatus(ctx context.Context, courseID, submitterID int64, status model.GradeStatus) (bool, error)
	CountByStatus(ctx context.Context, courseID int64) (map[model.GradeStatus]int, error)
}

const recordColumns = `id, course_id, student_id, grade_kind, revision, submitter_id,
	course_external_id, student_external_id, submitter_external_id,
	grade, incomplete_grade, incomplete_deadline, last_attended,
	status, status_messages, fail_count, user_submit_time, sis_send_time,
	additional, created_at, updated_at`

type repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) RecordStore {
	return &repository{db: db, now: time.Now}
}

func (r *repository) SaveRecord(ctx context.Context, rec *model.GradeRecord) error {
	extra, err := rec.ExtraJSON()
	if err != nil {
		return fmt.Errorf("failed to encode additional data: %w", err)
	}

	now := r.now().UTC()
	rec.UpdatedAt = now

	if rec.ID == 0 {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		query := `INSERT INTO grade_records (course_id, student_id, grade_kind, revision, submitter_id,
			course_external_id, student_external_id, submitter_external_id,
			grade, incomplete_grade, incomplete_deadline, last_attended,
			status, status_messages, fail_count, user_submit_time, sis_send_time,
			additional, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		res, err := r.db.ExecContext(ctx, query,
			rec.CourseID, rec.StudentID, rec.GradeKind, rec.Revision, rec.SubmitterID,
			rec.CourseExternalID, rec.StudentExternalID, rec.SubmitterExternalID,
			rec.Grade, nullString(rec.IncompleteGrade), nullTime(rec.IncompleteDeadline), nullTime(rec.LastAttended),
			rec.Status, rec.StatusMessageText(), rec.FailCount, nullTime(rec.UserSubmitTime), nullTime(rec.SISSendTime),
			extra, rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert grade record: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read grade record id: %w", err)
		}
		rec.ID = id
		return nil
	}

	return r.update(ctx, rec, extra, "")
}

func (r *repository) SaveRecordIf(ctx context.Context, rec *model.GradeRecord, expected model.GradeStatus) error {
	if rec.ID == 0 {
		return errors.New("conditional save needs a stored record")
	}
	extra, err := rec.ExtraJSON()
	if err != nil {
		return fmt.Errorf("failed to encode additional data: %w", err)
	}
	rec.UpdatedAt = r.now().UTC()
	return r.update(ctx, rec, extra, expected)
}

// update writes rec by id. A non-empty expected status makes the write
// conditional; the DSN sets clientFoundRows so unchanged rows still count.
func (r *repository) update(ctx context.Context, rec *model.GradeRecord, extra string, expected model.GradeStatus) error {
	query := `UPDATE grade_records SET submitter_id = ?,
		course_external_id = ?, student_external_id = ?, submitter_external_id = ?,
		grade = ?, incomplete_grade = ?, incomplete_deadline = ?, last_attended = ?,
		status = ?, status_messages = ?, fail_count = ?, user_submit_time = ?, sis_send_time = ?,
		additional = ?, updated_at = ?
		WHERE id = ?`
	args := []interface{}{rec.SubmitterID,
		rec.CourseExternalID, rec.StudentExternalID, rec.SubmitterExternalID,
		rec.Grade, nullString(rec.IncompleteGrade), nullTime(rec.IncompleteDeadline), nullTime(rec.LastAttended),
		rec.Status, rec.StatusMessageText(), rec.FailCount, nullTime(rec.UserSubmitTime), nullTime(rec.SISSendTime),
		extra, rec.UpdatedAt, rec.ID}
	if expected != "" {
		query += " AND status = ?"
		args = append(args, expected)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update grade record %d: %w", rec.ID, err)
	}
	if expected == "" {
		return nil
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for grade record %d: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("grade record %d is no longer %s: %w", rec.ID, expected, pkgerrors.ErrStatusConflict)
	}
	return nil
}

func (r *repository) FindCurrent(ctx context.Context, courseID, studentID int64, kind model.GradeKind) (*model.GradeRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM grade_records
		WHERE course_id = ? AND student_id = ? AND grade_kind = ?
		ORDER BY revision DESC LIMIT 1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, courseID, studentID, kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *repository) ListRevisions(ctx context.Context, courseID, studentID int64, kind model.GradeKind) ([]model.GradeRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM grade_records
		WHERE course_id = ? AND student_id = ? AND grade_kind = ?
		ORDER BY revision ASC`

	return r.queryRecords(ctx, query, courseID, studentID, kind)
}

func (r *repository) FindPendingCourseGroups(ctx context.Context, courseID, submitterID int64, status model.GradeStatus) ([]string, error) {
	query := `SELECT course_external_id FROM grade_records
		WHERE course_id = ? AND submitter_id = ? AND status = ?
		GROUP BY course_external_id
		ORDER BY MIN(user_submit_time) ASC, course_external_id ASC`

	rows, err := r.db.QueryContext(ctx, query, courseID, submitterID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		groups = append(groups, id)
	}
	return groups, rows.Err()
}

func (r *repository) FindByStatus(ctx context.Context, q RecordQuery) ([]model.GradeRecord, error) {
	where, args := q.where()
	query := `SELECT ` + recordColumns + ` FROM grade_records` + where +
		` ORDER BY user_submit_time ASC, id ASC`

	return r.queryRecords(ctx, query, args...)
}

func (r *repository) FindStuck(ctx context.Context, status model.GradeStatus, olderThan time.Time) ([]model.StuckGroup, error) {
	query := `SELECT course_id, submitter_id, COUNT(*) AS cnt FROM grade_records
		WHERE status = ? AND updated_at < ?
		GROUP BY course_id, submitter_id
		ORDER BY course_id, submitter_id`

	rows, err := r.db.QueryContext(ctx, query, status, olderThan.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []model.StuckGroup
	for rows.Next() {
		var g model.StuckGroup
		if err := rows.Scan(&g.CourseID, &g.SubmitterID, &g.Count); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *repository) ResetStuck(ctx context.Context, courseID, submitterID int64, from, to model.GradeStatus, olderThan time.Time) (int64, error) {
	query := `UPDATE grade_records SET status = ?, updated_at = ?
		WHERE status = ? AND course_id = ? AND submitter_id = ? AND updated_at < ?`

	res, err := r.db.ExecContext(ctx, query, to, r.now().UTC(), from, courseID, submitterID, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reset %s records: %w", from, err)
	}
	return res.RowsAffected()
}

func (r *repository) ExistsWithStatus(ctx context.Context, courseID, submitterID int64, status model.GradeStatus) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM grade_records
		WHERE course_id = ? AND submitter_id = ? AND status = ?)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, courseID, submitterID, status).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *repository) CountByStatus(ctx context.Context, courseID int64) (map[model.GradeStatus]int, error) {
	query := `SELECT g.status, COUNT(*) FROM grade_records g
		JOIN (SELECT course_id, student_id, grade_kind, MAX(revision) AS revision
			FROM grade_records WHERE course_id = ?
			GROUP BY course_id, student_id, grade_kind) cur
		ON g.course_id = cur.course_id AND g.student_id = cur.student_id
			AND g.grade_kind = cur.grade_kind AND g.revision = cur.revision
		GROUP BY g.status`

	rows, err := r.db.QueryContext(ctx, query, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.GradeStatus]int)
	for rows.Next() {
		var status model.GradeStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *repository) queryRecords(ctx context.Context, query string, args ...interface{}) ([]model.GradeRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.GradeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (q RecordQuery) where() (string, []interface{}) {
	var conds []string
	var args []interface{}

	if q.CourseID != 0 {
		conds = append(conds, "course_id = ?")
		args = append(args, q.CourseID)
	}
	if q.SubmitterID != 0 {
		conds = append(conds, "submitter_id = ?")
		args = append(args, q.SubmitterID)
	}
	if q.SubmitterExternalID != "" {
		conds = append(conds, "submitter_external_id = ?")
		args = append(args, q.SubmitterExternalID)
	}
	if q.CourseExternalID != "" {
		conds = append(conds, "course_external_id = ?")
		args = append(args, q.CourseExternalID)
	}
	if q.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, q.Status)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*model.GradeRecord, error) {
	var rec model.GradeRecord
	var incompleteGrade, messages, additional sql.NullString
	var deadline, lastAttended, submitTime, sendTime sql.NullTime

	err := row.Scan(&rec.ID, &rec.CourseID, &rec.StudentID, &rec.GradeKind, &rec.Revision, &rec.SubmitterID,
		&rec.CourseExternalID, &rec.StudentExternalID, &rec.SubmitterExternalID,
		&rec.Grade, &incompleteGrade, &deadline, &lastAttended,
		&rec.Status, &messages, &rec.FailCount, &submitTime, &sendTime,
		&additional, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if incompleteGrade.Valid {
		v := incompleteGrade.String
		rec.IncompleteGrade = &v
	}
	rec.IncompleteDeadline = timePtr(deadline)
	rec.LastAttended = timePtr(lastAttended)
	rec.UserSubmitTime = timePtr(submitTime)
	rec.SISSendTime = timePtr(sendTime)
	rec.SetStatusMessageText(messages.String)
	if err := rec.SetExtraJSON(additional.String); err != nil {
		return nil, fmt.Errorf("failed to decode additional data for record %d: %w", rec.ID, err)
	}

	return &rec, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
