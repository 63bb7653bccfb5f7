package model

import "time"

type FileStatus string

const (
	FileStatusUploaded   FileStatus = "UPLOADED"
	FileStatusParsedOK   FileStatus = "PARSED_OK"
	FileStatusParsedFail FileStatus = "PARSED_FAIL"
)

// ImportFile tracks a grade spreadsheet uploaded for bulk entry.
type ImportFile struct {
	ID           int64      `json:"id" db:"id"`
	S3Path       string     `json:"s3_path" db:"s3_path"`
	SubmitterID  int64      `json:"submitter_id" db:"submitter_id"`
	Status       FileStatus `json:"status" db:"status"`
	RowCount     int        `json:"row_count" db:"row_count"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}
