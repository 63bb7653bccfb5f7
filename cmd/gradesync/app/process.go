package app

import (
	"github.com/spf13/cobra"
)

func newProcessCmd() *cobra.Command {
	var courseID, submitterID int64

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Send the submitted grades of one course and submitter",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadComponents()
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Service.Process(cmd.Context(), courseID, submitterID)
			if result != nil {
				if perr := printJSON(cmd, result); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	cmd.Flags().Int64Var(&courseID, "course", 0, "Local course id")
	cmd.Flags().Int64Var(&submitterID, "submitter", 0, "Local id of the user who submitted the grades")
	_ = cmd.MarkFlagRequired("course")
	_ = cmd.MarkFlagRequired("submitter")

	return cmd
}
