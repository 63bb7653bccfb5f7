package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"sis-gradesync/internal/model"
	pkgerrors "sis-gradesync/pkg/errors"
)

// FileRepository tracks uploaded grade spreadsheets.
type FileRepository interface {
	CreateFile(ctx context.Context, file *model.ImportFile) error
	GetFile(ctx context.Context, fileID int64) (*model.ImportFile, error)
	UpdateFileStatus(ctx context.Context, fileID int64, status model.FileStatus, rowCount int, errorMessage *string) error
}

type fileRepository struct {
	db *sql.DB
}

func NewFileRepository(db *sql.DB) FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) CreateFile(ctx context.Context, file *model.ImportFile) error {
	now := time.Now().UTC()
	file.CreatedAt, file.UpdatedAt = now, now
	if file.Status == "" {
		file.Status = model.FileStatusUploaded
	}

	query := `INSERT INTO import_files (s3_path, submitter_id, status, row_count, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, file.S3Path, file.SubmitterID, file.Status,
		file.RowCount, nullString(file.ErrorMessage), file.CreatedAt, file.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert import file: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	file.ID = id
	return nil
}

func (r *fileRepository) GetFile(ctx context.Context, fileID int64) (*model.ImportFile, error) {
	query := `SELECT id, s3_path, submitter_id, status, row_count, error_message, created_at, updated_at
		FROM import_files WHERE id = ?`

	var file model.ImportFile
	var errMsg sql.NullString
	err := r.db.QueryRowContext(ctx, query, fileID).Scan(
		&file.ID, &file.S3Path, &file.SubmitterID, &file.Status,
		&file.RowCount, &errMsg, &file.CreatedAt, &file.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	if errMsg.Valid {
		file.ErrorMessage = &errMsg.String
	}
	return &file, nil
}

func (r *fileRepository) UpdateFileStatus(ctx context.Context, fileID int64, status model.FileStatus, rowCount int, errorMessage *string) error {
	query := `UPDATE import_files SET status = ?, row_count = ?, error_message = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, status, rowCount, nullString(errorMessage), time.Now().UTC(), fileID)
	return err
}

// MemoryFileRepository is the in-process FileRepository.
type MemoryFileRepository struct {
	mu     sync.Mutex
	files  map[int64]model.ImportFile
	nextID int64
}

func NewMemoryFileRepository() *MemoryFileRepository {
	return &MemoryFileRepository{files: make(map[int64]model.ImportFile)}
}

func (r *MemoryFileRepository) CreateFile(_ context.Context, file *model.ImportFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	file.CreatedAt, file.UpdatedAt = now, now
	if file.Status == "" {
		file.Status = model.FileStatusUploaded
	}
	r.nextID++
	file.ID = r.nextID
	r.files[file.ID] = *file
	return nil
}

func (r *MemoryFileRepository) GetFile(_ context.Context, fileID int64) (*model.ImportFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, ok := r.files[fileID]
	if !ok {
		return nil, pkgerrors.ErrFileNotFound
	}
	return &file, nil
}

func (r *MemoryFileRepository) UpdateFileStatus(_ context.Context, fileID int64, status model.FileStatus, rowCount int, errorMessage *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, ok := r.files[fileID]
	if !ok {
		return pkgerrors.ErrFileNotFound
	}
	file.Status = status
	file.RowCount = rowCount
	file.ErrorMessage = errorMessage
	file.UpdatedAt = time.Now().UTC()
	r.files[fileID] = file
	return nil
}
