// Package api exposes grade entry, status and sync triggers over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sis-gradesync/internal/config"
	"sis-gradesync/internal/db"
	"sis-gradesync/internal/logger"
	"sis-gradesync/internal/model"
	"sis-gradesync/internal/storage"
	pkgerrors "sis-gradesync/pkg/errors"
)

// GradeEditor is the grade entry flow.
type GradeEditor interface {
	Save(ctx context.Context, submitterID int64, row model.GradeRow) (*model.SaveGradeResponse, error)
	History(ctx context.Context, courseID, studentID int64, kind model.GradeKind) ([]model.GradeRecord, error)
}

// JobQueue hands work to the sync and import workers.
type JobQueue interface {
	TriggerJob(ctx context.Context, courseID, submitterID int64) (model.ProcessJob, error)
	EnqueueImportJob(ctx context.Context, job model.ImportJob) error
}

type Handler struct {
	editor  GradeEditor
	store   db.RecordStore
	files   db.FileRepository
	storage storage.Storage
	jobs    JobQueue
	cfg     *config.Config
	log     zerolog.Logger
}

func NewHandler(
	editor GradeEditor,
	store db.RecordStore,
	files db.FileRepository,
	storage storage.Storage,
	jobs JobQueue,
	cfg *config.Config,
) *Handler {
	return &Handler{
		editor:  editor,
		store:   store,
		files:   files,
		storage: storage,
		jobs:    jobs,
		cfg:     cfg,
		log:     logger.Component("api"),
	}
}

func (h *Handler) SaveGrade(c *gin.Context) {
	var req model.SaveGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	resp, err := h.editor.Save(c.Request.Context(), req.SubmitterID, req.GradeRow)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetGradesStatus(c *gin.Context) {
	courseID, ok := pathID(c, "course_id")
	if !ok {
		return
	}

	counts, err := h.store.CountByStatus(c.Request.Context(), courseID)
	if err != nil {
		h.log.Error().Err(err).Int64("course_id", courseID).Msg("Failed to get grades status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	resp := model.StatusResponse{CourseID: courseID, Counts: counts}
	for _, n := range counts {
		resp.Total += n
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetGradeHistory(c *gin.Context) {
	courseID, ok := pathID(c, "course_id")
	if !ok {
		return
	}
	studentID, ok := pathID(c, "student_id")
	if !ok {
		return
	}
	kindNum, err := strconv.Atoi(c.Param("kind"))
	kind := model.GradeKind(kindNum)
	if err != nil || !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid grade kind"})
		return
	}

	history, err := h.editor.History(c.Request.Context(), courseID, studentID, kind)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if len(history) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Grade not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"revisions": history})
}

func (h *Handler) TriggerSync(c *gin.Context) {
	var req model.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	job, err := h.jobs.TriggerJob(c.Request.Context(), req.CourseID, req.SubmitterID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue process job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue sync job"})
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Int64("course_id", req.CourseID).
		Int64("submitter_id", req.SubmitterID).
		Msg("Process job enqueued")

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Sync job queued successfully",
		"job":     job,
	})
}

// UploadGrades stores a grade spreadsheet and queues it for import.
func (h *Handler) UploadGrades(c *gin.Context) {
	submitterID, err := strconv.ParseInt(c.PostForm("submitter_id"), 10, 64)
	if err != nil || submitterID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid submitter ID"})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file"})
		return
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only .xlsx files are accepted"})
		return
	}

	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable file"})
		return
	}
	defer src.Close()

	ctx := c.Request.Context()
	key := fmt.Sprintf("imports/%s.xlsx", uuid.NewString())
	if err := h.storage.Upload(ctx, key, src); err != nil {
		h.log.Error().Err(err).Str("s3_path", key).Msg("Failed to upload grade file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
		return
	}

	file := &model.ImportFile{S3Path: key, SubmitterID: submitterID}
	if err := h.files.CreateFile(ctx, file); err != nil {
		h.log.Error().Err(err).Msg("Failed to record grade file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	job := model.ImportJob{FileID: file.ID, S3Path: key, SubmitterID: submitterID}
	if err := h.jobs.EnqueueImportJob(ctx, job); err != nil {
		h.log.Error().Err(err).Int64("file_id", file.ID).Msg("Failed to enqueue import job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue import job"})
		return
	}

	h.log.Info().Int64("file_id", file.ID).Str("s3_path", key).Msg("Import job enqueued")
	c.JSON(http.StatusAccepted, file)
}

func (h *Handler) GetImport(c *gin.Context) {
	fileID, ok := pathID(c, "file_id")
	if !ok {
		return
	}

	file, err := h.files.GetFile(c.Request.Context(), fileID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.cfg.App.Name,
		"version": h.cfg.App.Version,
	})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pkgerrors.ErrSchemaValidation):
		status = http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrFileNotFound), errors.Is(err, pkgerrors.ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrRecordInFlight):
		status = http.StatusConflict
	case errors.Is(err, pkgerrors.ErrMissingIdentity):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + strings.ReplaceAll(name, "_", " ")})
		return 0, false
	}
	return id, true
}
