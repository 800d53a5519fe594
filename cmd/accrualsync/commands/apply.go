package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"accrualsync/internal/pipeline"
)

func applyCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "apply [run-id]",
		Short: "Apply a reviewed run, or plan and apply in one step",
		Long: `With a run id, applies the change set stored by an earlier "plan" run.
The master must be unchanged since that plan.

Without a run id, reads the master and paysheets, plans, and applies
immediately. A backup of the master is written first unless data.auto_backup
is false.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			if len(args) == 1 {
				res, err := runner.ApplyStored(ctx, args[0])
				if err != nil {
					return err
				}
				run, err := runs.GetRun(args[0])
				if err != nil {
					return err
				}
				req := pipeline.Request{Master: run.MasterPath, Paysheets: run.Paysheets, Period: run.Period}
				return printResult(cmd, res, req, f.jsonOut)
			}

			req, err := f.request(false)
			if err != nil {
				return err
			}
			res, err := runner.Run(ctx, req)
			if err != nil {
				return err
			}
			if err := printResult(cmd, res, req, f.jsonOut); err != nil {
				return err
			}
			if res.Applied != nil && res.Applied.Backup != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Backup: %s\n", res.Applied.Backup.Path)
			}
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}
