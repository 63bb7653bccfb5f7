package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sis-gradesync/internal/model"
	pkgerrors "sis-gradesync/pkg/errors"
)

var recordColumnNames = []string{
	"id", "course_id", "student_id", "grade_kind", "revision", "submitter_id",
	"course_external_id", "student_external_id", "submitter_external_id",
	"grade", "incomplete_grade", "incomplete_deadline", "last_attended",
	"status", "status_messages", "fail_count", "user_submit_time", "sis_send_time",
	"additional", "created_at", "updated_at",
}

func newMockRepository(t *testing.T) (*repository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &repository{db: conn, now: func() time.Time { return fixed }}, mock
}

func TestSaveRecordInsertsNewRecord(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepository(t)

	mock.ExpectExec("INSERT INTO grade_records").WillReturnResult(sqlmock.NewResult(42, 1))

	rec := &model.GradeRecord{CourseID: 1, StudentID: 2, GradeKind: model.GradeKindFinal, Status: model.GradeStatusEditing}
	require.NoError(t, repo.SaveRecord(context.Background(), rec))

	assert.Equal(t, int64(42), rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecordUpdatesExistingRecord(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepository(t)

	mock.ExpectExec("UPDATE grade_records SET").WillReturnResult(sqlmock.NewResult(0, 1))

	rec := &model.GradeRecord{ID: 7, Status: model.GradeStatusProcessing}
	require.NoError(t, repo.SaveRecord(context.Background(), rec))

	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), rec.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecordWrapsDriverError(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepository(t)

	mock.ExpectExec("UPDATE grade_records SET").WillReturnError(errors.New("deadlock"))

	err := repo.SaveRecord(context.Background(), &model.GradeRecord{ID: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock")
}

func TestFindCurrentNotFound(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT (.+) FROM grade_records").
		WithArgs(1, 2, 9).
		WillReturnRows(sqlmock.NewRows(recordColumnNames))

	_, err := repo.FindCurrent(context.Background(), 1, 2, model.GradeKindFinal)
	assert.ErrorIs(t, err, pkgerrors.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCurrentScansRecord(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepository(t)

	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	attended := time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(recordColumnNames).AddRow(
		11, 1, 2, 9, 3, 5,
		"CRS-1", "S-2", "T-5",
		"F", nil, nil, attended,
		"FAILED", "GPA mismatch\nsecond", 2, created, nil,
		`{"origin":"import"}`, created, created,
	)
	mock.ExpectQuery("SELECT (.+) FROM grade_records").WillReturnRows(rows)

	rec, err := repo.FindCurrent(context.Background(), 1, 2, model.GradeKindFinal)
	require.NoError(t, err)

	assert.Equal(t, int64(11), rec.ID)
	assert.Equal(t, 3, rec.Revision)
	assert.Equal(t, model.GradeKindFinal, rec.GradeKind)
	assert.Equal(t, model.GradeStatusFailed, rec.Status)
	assert.Equal(t, []string{"GPA mismatch", "second"}, rec.StatusMessages)
	assert.Nil(t, rec.IncompleteGrade)
	require.NotNil(t, rec.LastAttended)
	assert.True(t, attended.Equal(*rec.LastAttended))
	assert.Nil(t, rec.SISSendTime)
	assert.Equal(t, map[string]string{"origin": "import"}, rec.Extra)
}

func TestFindPendingCourseGroups(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT course_external_id FROM grade_records").
		WithArgs(5, 9, "SUBMITTED").
		WillReturnRows(sqlmock.NewRows([]string{"course_external_id"}).AddRow("X").AddRow("Y"))

	groups, err := repo.FindPendingCourseGroups(context.Background(), 5, 9, model.GradeStatusSubmitted)
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y"}, groups)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindStuckGroups(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepository(t)

	cutoff := time.Date(2024, 6, 1, 11, 55, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT course_id, submitter_id, COUNT").
		WithArgs("RESUBMIT", cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"course_id", "submitter_id", "cnt"}).AddRow(5, 9, 2))

	groups, err := repo.FindStuck(context.Background(), model.GradeStatusResubmit, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []model.StuckGroup{{CourseID: 5, SubmitterID: 9, Count: 2}}, groups)
}

func TestResetStuckIsOneConditionalUpdate(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepository(t)

	cutoff := time.Date(2024, 6, 1, 11, 55, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE grade_records SET status = (.+) WHERE status = (.+) AND updated_at <").
		WithArgs("SUBMITTED", sqlmock.AnyArg(), "RESUBMIT", 5, 9, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.ResetStuck(context.Background(), 5, 9, model.GradeStatusResubmit, model.GradeStatusSubmitted, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsWithStatus(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(5, 9, "SUBMITTED").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.ExistsWithStatus(context.Background(), 5, 9, model.GradeStatusSubmitted)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCountByStatus(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT g.status, COUNT").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("PROCESSED", 4).
			AddRow("FAILED", 1))

	counts, err := repo.CountByStatus(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, map[model.GradeStatus]int{
		model.GradeStatusProcessed: 4,
		model.GradeStatusFailed:    1,
	}, counts)
}

func TestRecordQueryWhere(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		query     RecordQuery
		wantWhere string
		wantArgs  int
	}{
		{name: "empty", query: RecordQuery{}, wantWhere: "", wantArgs: 0},
		{
			name:      "claim filter",
			query:     RecordQuery{CourseID: 5, SubmitterExternalID: "T-9", CourseExternalID: "X", Status: model.GradeStatusSubmitted},
			wantWhere: " WHERE course_id = ? AND submitter_external_id = ? AND course_external_id = ? AND status = ?",
			wantArgs:  4,
		},
		{
			name:      "submitter only",
			query:     RecordQuery{SubmitterID: 9},
			wantWhere: " WHERE submitter_id = ?",
			wantArgs:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			where, args := tt.query.where()
			assert.Equal(t, tt.wantWhere, where)
			assert.Len(t, args, tt.wantArgs)
		})
	}
}

func TestSaveRecordIf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "status unchanged", affected: 1},
		{name: "status moved on", affected: 0, wantErr: pkgerrors.ErrStatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo, mock := newMockRepository(t)

			args := make([]driver.Value, 17)
			for i := range args {
				args[i] = sqlmock.AnyArg()
			}
			args[15] = int64(7)
			args[16] = string(model.GradeStatusEditing)
			mock.ExpectExec(`UPDATE grade_records SET (.+) WHERE id = \? AND status = \?`).
				WithArgs(args...).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			rec := &model.GradeRecord{ID: 7, Grade: "A", Status: model.GradeStatusSubmitted}
			err := repo.SaveRecordIf(context.Background(), rec, model.GradeStatusEditing)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
