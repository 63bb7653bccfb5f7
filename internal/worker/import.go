package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"sis-gradesync/internal/config"
	"sis-gradesync/internal/db"
	"sis-gradesync/internal/excel"
	"sis-gradesync/internal/logger"
	"sis-gradesync/internal/model"
	"sis-gradesync/internal/queue"
	"sis-gradesync/internal/storage"
)

// GradeSaver stores one grade row through the grade entry flow.
type GradeSaver interface {
	Save(ctx context.Context, submitterID int64, row model.GradeRow) (*model.SaveGradeResponse, error)
}

type ImportWorker struct {
	cfg        *config.Config
	files      db.FileRepository
	storage    storage.Storage
	parser     excel.ParsingStrategy
	saver      GradeSaver
	consumer   *queue.Consumer
	workerPool *WorkerPool
	log        zerolog.Logger
}

func NewImportWorker(
	cfg *config.Config,
	files db.FileRepository,
	storage storage.Storage,
	saver GradeSaver,
	consumer *queue.Consumer,
) *ImportWorker {
	return &ImportWorker{
		cfg:        cfg,
		files:      files,
		storage:    storage,
		parser:     excel.NewExcelStrategy(),
		saver:      saver,
		consumer:   consumer,
		workerPool: NewWorkerPool(cfg.Workers.Import.Count),
		log:        logger.Component("import_worker"),
	}
}

func (w *ImportWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Starting import worker")

	w.workerPool.Start(ctx)

	return w.consumer.ConsumeImportQueue(ctx, w.handleMessage)
}

func (w *ImportWorker) Stop() {
	w.log.Info().Msg("Stopping import worker")
	w.workerPool.Stop()
}

func (w *ImportWorker) handleMessage(ctx context.Context, data []byte) error {
	var job model.ImportJob
	if err := json.Unmarshal(data, &job); err != nil {
		w.log.Error().Err(err).Msg("Failed to unmarshal import job")
		return err
	}

	w.log.Info().Int64("file_id", job.FileID).Str("s3_path", job.S3Path).Msg("Processing import job")

	return w.workerPool.Submit(ctx, func(ctx context.Context) error {
		return w.ProcessFile(ctx, job)
	})
}

// ProcessFile imports every row of one uploaded spreadsheet. Rows are saved
// independently; the file is marked failed when any row could not be saved
// or did not pass the grade rules.
func (w *ImportWorker) ProcessFile(ctx context.Context, job model.ImportJob) error {
	log := w.log.With().Int64("file_id", job.FileID).Int64("submitter_id", job.SubmitterID).Logger()

	fail := func(err error) error {
		log.Error().Err(err).Msg("Import failed")
		errorMsg := err.Error()
		if uerr := w.files.UpdateFileStatus(ctx, job.FileID, model.FileStatusParsedFail, 0, &errorMsg); uerr != nil {
			log.Error().Err(uerr).Msg("Failed to update file status")
		}
		return err
	}

	log.Debug().Msg("Downloading file")
	reader, err := w.storage.Download(ctx, job.S3Path)
	if err != nil {
		return fail(fmt.Errorf("download: %w", err))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return fail(fmt.Errorf("read: %w", err))
	}

	rows, err := excel.Load(ctx, w.parser, data)
	if err != nil {
		return fail(err)
	}
	log.Debug().Int("row_count", len(rows)).Msg("Parsed grade file")

	var problems []string
	saved := 0
	for i, row := range rows {
		rowNum := i + 2
		resp, err := w.saver.Save(ctx, job.SubmitterID, row)
		if err != nil {
			problems = append(problems, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}
		saved++
		if len(resp.Errors) > 0 {
			problems = append(problems, fmt.Sprintf("row %d: %s", rowNum, describe(resp.Errors)))
		}
	}

	if len(problems) > 0 {
		errorMsg := strings.Join(problems, "\n")
		if err := w.files.UpdateFileStatus(ctx, job.FileID, model.FileStatusParsedFail, saved, &errorMsg); err != nil {
			log.Error().Err(err).Msg("Failed to update file status")
			return err
		}
		log.Warn().Int("saved", saved).Int("problems", len(problems)).Msg("Import finished with problems")
		return nil
	}

	if err := w.files.UpdateFileStatus(ctx, job.FileID, model.FileStatusParsedOK, saved, nil); err != nil {
		log.Error().Err(err).Msg("Failed to update file status")
		return err
	}

	log.Info().Int("row_count", saved).Msg("File imported successfully")
	return nil
}

func describe(fieldErrs map[string]string) string {
	fields := make([]string, 0, len(fieldErrs))
	for f := range fieldErrs {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + fieldErrs[f]
	}
	return strings.Join(parts, "; ")
}
