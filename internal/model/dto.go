package model

import "time"

// ProcessJob asks a sync worker to run the synchronizer for one course and submitter.
type ProcessJob struct {
	JobID       string    `json:"job_id"`
	CourseID    int64     `json:"course_id"`
	SubmitterID int64     `json:"submitter_id"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

type ImportJob struct {
	FileID      int64  `json:"file_id"`
	S3Path      string `json:"s3_path"`
	SubmitterID int64  `json:"submitter_id"`
}

// GradeRow is one grade entry as typed by a user or read from a spreadsheet.
type GradeRow struct {
	CourseID           int64      `json:"course_id" validate:"required,gt=0"`
	StudentID          int64      `json:"student_id" validate:"required,gt=0"`
	GradeKind          GradeKind  `json:"grade_kind" validate:"required,oneof=1 2 3 4 5 6 9"`
	Grade              string     `json:"grade" validate:"max=127"`
	IncompleteGrade    *string    `json:"incomplete_grade,omitempty" validate:"omitempty,max=127"`
	IncompleteDeadline *time.Time `json:"incomplete_deadline,omitempty"`
	LastAttended       *time.Time `json:"last_attended,omitempty"`
	Confirmed          bool       `json:"confirmed"`
}

type SaveGradeRequest struct {
	SubmitterID int64 `json:"submitter_id" binding:"required"`
	GradeRow
}

type SaveGradeResponse struct {
	Record *GradeRecord      `json:"record"`
	Errors map[string]string `json:"errors,omitempty"`
}

type SyncRequest struct {
	CourseID    int64 `json:"course_id" binding:"required"`
	SubmitterID int64 `json:"submitter_id" binding:"required"`
}

type StatusResponse struct {
	CourseID int64               `json:"course_id"`
	Counts   map[GradeStatus]int `json:"counts"`
	Total    int                 `json:"total"`
}
