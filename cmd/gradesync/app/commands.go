// Package app implements the gradesync commands.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	components "sis-gradesync/internal/app"
	"sis-gradesync/internal/config"
	"sis-gradesync/internal/logger"
)

// loadComponents builds the shared components from CONFIG_PATH. Tests swap it
// for an in-memory setup.
var loadComponents = func() (*components.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	return components.New(cfg)
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "gradesync",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Send submitted grades to the SIS",
		Long: `gradesync runs the grade synchronization pipeline by hand: process the
submitted grades of one course, sweep records waiting for a resubmit, import a
grade spreadsheet or apply the database schema.`,
	}

	rootCmd.AddCommand(newProcessCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newMigrateCmd())

	return rootCmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
