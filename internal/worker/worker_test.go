package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"sis-gradesync/internal/config"
	"sis-gradesync/internal/db"
	"sis-gradesync/internal/model"
	"sis-gradesync/internal/storage"
	gradesync "sis-gradesync/internal/sync"
	pkgerrors "sis-gradesync/pkg/errors"
)

func testConfig() *config.Config {
	return &config.Config{
		Workers: config.WorkersConfig{
			Sync:   config.SyncWorkerConfig{Count: 2},
			Import: config.ImportWorkerConfig{Count: 1},
		},
		Sweep: config.SweepConfig{Schedule: "@every 1m"},
	}
}

func TestWorkerPoolRunsEveryJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := NewWorkerPool(2)
	pool.Start(ctx)

	var ran int32
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(ctx, func(context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}))
	}
	pool.Stop()

	assert.Equal(t, int32(20), atomic.LoadInt32(&ran))
}

func TestWorkerPoolSubmitHonoursContext(t *testing.T) {
	t.Parallel()

	pool := NewWorkerPool(1)
	ctx, cancel := context.WithCancel(context.Background())

	// Not started: the buffer fills and the next submit blocks.
	for i := 0; i < 2; i++ {
		require.NoError(t, pool.Submit(ctx, func(context.Context) error { return nil }))
	}
	cancel()
	err := pool.Submit(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls [][2]int64
	err   error
}

func (f *fakeProcessor) Process(_ context.Context, courseID, submitterID int64) (*gradesync.ProcessResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]int64{courseID, submitterID})
	return &gradesync.ProcessResult{}, f.err
}

func (f *fakeProcessor) Calls() [][2]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]int64(nil), f.calls...)
}

func TestSyncWorkerHandleMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message string
		wantErr bool
		want    [][2]int64
	}{
		{name: "valid job", message: `{"job_id":"j1","course_id":5,"submitter_id":9}`, want: [][2]int64{{5, 9}}},
		{name: "garbage", message: `{`, wantErr: true},
		{name: "missing submitter", message: `{"job_id":"j2","course_id":5}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			proc := &fakeProcessor{}
			w := NewSyncWorker(testConfig(), proc, nil)
			ctx := context.Background()
			w.workerPool.Start(ctx)

			err := w.handleMessage(ctx, []byte(tt.message))
			w.workerPool.Stop()

			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, proc.Calls())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, proc.Calls())
		})
	}
}

func TestSyncWorkerProcessWrapsError(t *testing.T) {
	t.Parallel()

	proc := &fakeProcessor{err: pkgerrors.NewInvariantError(pkgerrors.ErrMissingIdentity, "submitter 9")}
	w := NewSyncWorker(testConfig(), proc, nil)

	err := w.process(context.Background(), model.ProcessJob{JobID: "j1", CourseID: 5, SubmitterID: 9})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvariant(err))
	assert.Contains(t, err.Error(), "j1")
}

type fakeSweeper struct {
	runs   int32
	result gradesync.SweepResult
	err    error
}

func (f *fakeSweeper) Sweep(context.Context) (gradesync.SweepResult, error) {
	atomic.AddInt32(&f.runs, 1)
	return f.result, f.err
}

func TestSweepWorkerRunOnce(t *testing.T) {
	t.Parallel()

	s := &fakeSweeper{err: errors.New("store down")}
	w := NewSweepWorker(testConfig(), s)
	w.RunOnce(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&s.runs))
}

func TestSweepWorkerRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Sweep.Schedule = "every now and then"
	w := NewSweepWorker(cfg, &fakeSweeper{})
	assert.Error(t, w.Start(context.Background()))
}

func TestSweepWorkerStopsWithContext(t *testing.T) {
	t.Parallel()

	w := NewSweepWorker(testConfig(), &fakeSweeper{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sweep worker did not stop")
	}
	w.Stop()
}

type fakeSaver struct {
	mu   sync.Mutex
	rows []model.GradeRow
	// Responses are scripted per student id.
	errs      map[int64]error
	fieldErrs map[int64]map[string]string
}

func (f *fakeSaver) Save(_ context.Context, _ int64, row model.GradeRow) (*model.SaveGradeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, row)
	if err := f.errs[row.StudentID]; err != nil {
		return nil, err
	}
	return &model.SaveGradeResponse{Record: &model.GradeRecord{}, Errors: f.fieldErrs[row.StudentID]}, nil
}

func uploadWorkbook(t *testing.T, store storage.Storage, key string, rows [][]interface{}) {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, store.Upload(context.Background(), key, buf))
}

func newImportFixture(t *testing.T, saver GradeSaver) (*ImportWorker, *db.MemoryFileRepository, *storage.MemoryStorage, int64) {
	t.Helper()

	files := db.NewMemoryFileRepository()
	store := storage.NewMemoryStorage()
	file := &model.ImportFile{S3Path: "imports/grades.xlsx", SubmitterID: 9}
	require.NoError(t, files.CreateFile(context.Background(), file))

	return NewImportWorker(testConfig(), files, store, saver, nil), files, store, file.ID
}

func TestImportWorkerSavesEveryRow(t *testing.T) {
	t.Parallel()

	saver := &fakeSaver{}
	w, files, store, fileID := newImportFixture(t, saver)
	uploadWorkbook(t, store, "imports/grades.xlsx", [][]interface{}{
		{"course_id", "student_id", "grade_kind", "grade", "confirmed"},
		{"5", "1", "9", "A", "yes"},
		{"5", "2", "9", "B", "no"},
	})

	ctx := context.Background()
	err := w.ProcessFile(ctx, model.ImportJob{FileID: fileID, S3Path: "imports/grades.xlsx", SubmitterID: 9})
	require.NoError(t, err)

	require.Len(t, saver.rows, 2)
	assert.True(t, saver.rows[0].Confirmed)
	assert.False(t, saver.rows[1].Confirmed)

	file, err := files.GetFile(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusParsedOK, file.Status)
	assert.Equal(t, 2, file.RowCount)
	assert.Nil(t, file.ErrorMessage)
}

func TestImportWorkerReportsRowProblems(t *testing.T) {
	t.Parallel()

	saver := &fakeSaver{
		errs:      map[int64]error{2: pkgerrors.ErrRecordInFlight},
		fieldErrs: map[int64]map[string]string{3: {"last_attended": "Date last attended must be entered for a failing student."}},
	}
	w, files, store, fileID := newImportFixture(t, saver)
	uploadWorkbook(t, store, "imports/grades.xlsx", [][]interface{}{
		{"course_id", "student_id", "grade_kind", "grade"},
		{"5", "1", "9", "A"},
		{"5", "2", "9", "B"},
		{"5", "3", "9", "F"},
	})

	ctx := context.Background()
	require.NoError(t, w.ProcessFile(ctx, model.ImportJob{FileID: fileID, S3Path: "imports/grades.xlsx"}))

	file, err := files.GetFile(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusParsedFail, file.Status)
	assert.Equal(t, 2, file.RowCount)
	require.NotNil(t, file.ErrorMessage)
	lines := strings.Split(*file.ErrorMessage, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "row 3: grade record is being synchronized")
	assert.Contains(t, lines[1], "row 4: last_attended: Date last attended")
}

func TestImportWorkerMissingFile(t *testing.T) {
	t.Parallel()

	w, files, _, fileID := newImportFixture(t, &fakeSaver{})
	ctx := context.Background()

	err := w.ProcessFile(ctx, model.ImportJob{FileID: fileID, S3Path: "imports/none.xlsx"})
	assert.ErrorIs(t, err, pkgerrors.ErrFileNotFound)

	file, err := files.GetFile(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusParsedFail, file.Status)
	require.NotNil(t, file.ErrorMessage)
}

func TestImportWorkerRejectsInvalidRows(t *testing.T) {
	t.Parallel()

	saver := &fakeSaver{}
	w, files, store, fileID := newImportFixture(t, saver)
	uploadWorkbook(t, store, "imports/grades.xlsx", [][]interface{}{
		{"course_id", "student_id", "grade_kind", "grade"},
		{"5", "1", "8", "A"},
	})

	ctx := context.Background()
	err := w.ProcessFile(ctx, model.ImportJob{FileID: fileID, S3Path: "imports/grades.xlsx"})
	var verr pkgerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, saver.rows)

	file, err := files.GetFile(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusParsedFail, file.Status)
}
