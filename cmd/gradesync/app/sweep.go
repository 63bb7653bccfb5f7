package app

import (
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var inline bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Return cooled-down RESUBMIT records to SUBMITTED and trigger processing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadComponents()
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Sweeper(a.Trigger(inline)).Sweep(cmd.Context())
			if perr := printJSON(cmd, result); perr != nil {
				return perr
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&inline, "inline", false, "Process swept groups in this process instead of queueing jobs")

	return cmd
}
