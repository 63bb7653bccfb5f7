package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sis-gradesync/internal/config"
	"sis-gradesync/internal/db"
	"sis-gradesync/internal/grades"
	"sis-gradesync/internal/identity"
	"sis-gradesync/internal/model"
	"sis-gradesync/internal/rules"
	"sis-gradesync/internal/storage"
	"sis-gradesync/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeJobs struct {
	processJobs []model.ProcessJob
	importJobs  []model.ImportJob
	err         error
}

func (f *fakeJobs) TriggerJob(_ context.Context, courseID, submitterID int64) (model.ProcessJob, error) {
	job := model.ProcessJob{JobID: "job-1", CourseID: courseID, SubmitterID: submitterID}
	if f.err != nil {
		return job, f.err
	}
	f.processJobs = append(f.processJobs, job)
	return job, nil
}

func (f *fakeJobs) Trigger(ctx context.Context, courseID, submitterID int64) error {
	_, err := f.TriggerJob(ctx, courseID, submitterID)
	return err
}

func (f *fakeJobs) EnqueueImportJob(_ context.Context, job model.ImportJob) error {
	if f.err != nil {
		return f.err
	}
	f.importJobs = append(f.importJobs, job)
	return nil
}

type testServer struct {
	router  *gin.Engine
	store   *db.MemoryRecordStore
	files   *db.MemoryFileRepository
	storage *storage.MemoryStorage
	jobs    *fakeJobs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dir := identity.NewMemoryDirectory()
	dir.AddCourse(model.Course{
		ID: 5, ExternalID: "CRS-5",
		StartDate: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
	})
	dir.AddUser(model.User{ID: 1, ExternalID: "S-1"})
	dir.AddUser(model.User{ID: 9, ExternalID: "T-9"})

	cfg := &config.Config{App: config.AppConfig{Name: "sis-gradesync", Version: "test"}}
	store := db.NewMemoryRecordStore()
	files := db.NewMemoryFileRepository()
	objects := storage.NewMemoryStorage()
	jobs := &fakeJobs{}

	editor := grades.NewEditor(store, dir, rules.NewValidator(config.RulesConfig{
		FailingGrades: []string{"F"}, IncompleteGrades: []string{"I"}, DefaultIncompleteGrade: "F",
		IncompleteWindow: 365 * 24 * time.Hour,
	}), jobs)

	router := NewRouter("test")
	SetupRoutes(router, NewHandler(editor, store, files, objects, jobs, cfg), telemetry.Handler(telemetry.NewRegistry()))

	return &testServer{router: router, store: store, files: files, storage: objects, jobs: jobs}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	w = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSaveGrade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantInBody string
	}{
		{
			name:       "draft",
			body:       `{"submitter_id":9,"course_id":5,"student_id":1,"grade_kind":9,"grade":"B"}`,
			wantStatus: http.StatusOK,
			wantInBody: `"status":"EDITING"`,
		},
		{
			name:       "confirmed",
			body:       `{"submitter_id":9,"course_id":5,"student_id":1,"grade_kind":9,"grade":"A","confirmed":true}`,
			wantStatus: http.StatusOK,
			wantInBody: `"status":"SUBMITTED"`,
		},
		{
			name:       "rule errors",
			body:       `{"submitter_id":9,"course_id":5,"student_id":1,"grade_kind":9,"grade":"F","confirmed":true}`,
			wantStatus: http.StatusOK,
			wantInBody: `"last_attended"`,
		},
		{
			name:       "missing submitter",
			body:       `{"course_id":5,"student_id":1,"grade_kind":9,"grade":"A"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad kind",
			body:       `{"submitter_id":9,"course_id":5,"student_id":1,"grade_kind":7,"grade":"A"}`,
			wantStatus: http.StatusBadRequest,
			wantInBody: "schema validation failed",
		},
		{
			name:       "unknown student",
			body:       `{"submitter_id":9,"course_id":5,"student_id":2,"grade_kind":9,"grade":"A"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/grades", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantInBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantInBody)
			}
		})
	}
}

func TestSaveGradeInFlightConflict(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	confirm := map[string]interface{}{"submitter_id": 9, "course_id": 5, "student_id": 1, "grade_kind": 9, "grade": "A", "confirmed": true}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/grades", confirm).Code)
	assert.Len(t, s.jobs.processJobs, 1)

	w := s.do(t, http.MethodPost, "/api/v1/grades", confirm)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStatusAndHistory(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	body := map[string]interface{}{"submitter_id": 9, "course_id": 5, "student_id": 1, "grade_kind": 9, "grade": "A", "confirmed": true}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/grades", body).Code)

	w := s.do(t, http.MethodGet, "/api/v1/grades/5/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status model.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Total)
	assert.Equal(t, 1, status.Counts[model.GradeStatusSubmitted])

	w = s.do(t, http.MethodGet, "/api/v1/grades/5/students/1/kinds/9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"revision":0`)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/grades/5/students/1/kinds/1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/grades/5/students/1/kinds/8", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/grades/x/status", nil).Code)
}

func TestTriggerSync(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/sync/trigger", model.SyncRequest{CourseID: 5, SubmitterID: 9})
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, s.jobs.processJobs, 1)
	assert.Equal(t, int64(5), s.jobs.processJobs[0].CourseID)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/sync/trigger", map[string]int{"course_id": 5}).Code)

	s.jobs.err = errors.New("redis down")
	assert.Equal(t, http.StatusInternalServerError, s.do(t, http.MethodPost, "/api/v1/sync/trigger", model.SyncRequest{CourseID: 5, SubmitterID: 9}).Code)
}

func multipartUpload(t *testing.T, filename, submitter string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("submitter_id", submitter))
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("xlsx bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadGrades(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, multipartUpload(t, "grades.xlsx", "9"))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var file model.ImportFile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &file))
	assert.Equal(t, model.FileStatusUploaded, file.Status)
	assert.True(t, strings.HasPrefix(file.S3Path, "imports/"))

	ok, err := s.storage.Exists(context.Background(), file.S3Path)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, s.jobs.importJobs, 1)
	assert.Equal(t, file.ID, s.jobs.importJobs[0].FileID)
	assert.Equal(t, int64(9), s.jobs.importJobs[0].SubmitterID)

	got := s.do(t, http.MethodGet, "/api/v1/imports/1", nil)
	assert.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/imports/99", nil).Code)
}

func TestUploadGradesRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	for _, req := range []*http.Request{
		multipartUpload(t, "grades.csv", "9"),
		multipartUpload(t, "grades.xlsx", "nobody"),
	} {
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
	assert.Empty(t, s.jobs.importJobs)
}
