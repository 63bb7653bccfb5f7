package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"sis-gradesync/internal/model"
	"sis-gradesync/internal/worker"
)

func newImportCmd() *cobra.Command {
	var (
		path        string
		submitterID int64
		inline      bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a grade spreadsheet through the grade entry flow",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadComponents()
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			ctx := cmd.Context()
			key := fmt.Sprintf("imports/%s%s", uuid.NewString(), filepath.Ext(path))
			if err := a.Storage.Upload(ctx, key, f); err != nil {
				return fmt.Errorf("failed to store %s: %w", path, err)
			}

			file := &model.ImportFile{S3Path: key, SubmitterID: submitterID}
			if err := a.Files.CreateFile(ctx, file); err != nil {
				return err
			}

			importer := worker.NewImportWorker(a.Config, a.Files, a.Storage, a.Editor(a.Trigger(inline)), nil)
			importErr := importer.ProcessFile(ctx, model.ImportJob{FileID: file.ID, S3Path: key, SubmitterID: submitterID})

			stored, err := a.Files.GetFile(ctx, file.ID)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, stored); err != nil {
				return err
			}
			return importErr
		},
	}

	cmd.Flags().StringVar(&path, "file", "", "Path to an .xlsx grade spreadsheet")
	cmd.Flags().Int64Var(&submitterID, "submitter", 0, "Local id of the user submitting the grades")
	cmd.Flags().BoolVar(&inline, "inline", false, "Process confirmed grades in this process instead of queueing jobs")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("submitter")

	return cmd
}
