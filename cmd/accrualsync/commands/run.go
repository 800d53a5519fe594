package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		f      runFlags
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile with the [run] defaults; applies only when dry_run is off",
		Long: `Plans the change set and, when [run] dry_run is false in the config or
--dry-run=false is given, applies it in the same step. The flag overrides the
config either way.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(effectiveDryRun(cmd.Flags().Changed("dry-run"), dryRun))
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

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
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "plan only (default from [run] dry_run)")
	return cmd
}

// effectiveDryRun 命令行显式给出 --dry-run 时优先，否则取配置 [run] dry_run
func effectiveDryRun(flagSet, flagValue bool) bool {
	if flagSet {
		return flagValue
	}
	return cfg.Run.DryRun
}
