package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"accrualsync/internal/model"
	"accrualsync/internal/pipeline"
	"accrualsync/internal/report"
)

// runFlags plan/apply 共用的输入参数；为空时取配置中的 [run]
type runFlags struct {
	master    string
	paysheets []string
	period    string
	jsonOut   bool
}

func (f *runFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.master, "master", "m", "", "master accrual workbook (.xlsx)")
	cmd.Flags().StringSliceVarP(&f.paysheets, "paysheet", "p", nil, "paysheet file or folder (repeatable)")
	cmd.Flags().StringVar(&f.period, "period", "", "run period YYYY-MM")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the change set as JSON")
}

func (f *runFlags) request(dryRun bool) (pipeline.Request, error) {
	req := pipeline.Request{
		Master:    f.master,
		Paysheets: f.paysheets,
		Period:    f.period,
		DryRun:    dryRun,
	}
	if req.Master == "" {
		req.Master = cfg.Run.Master
	}
	if len(req.Paysheets) == 0 {
		req.Paysheets = cfg.Run.Paysheets
	}
	if req.Period == "" {
		req.Period = cfg.Run.Period
	}
	if req.Master == "" || len(req.Paysheets) == 0 || req.Period == "" {
		return req, fmt.Errorf("--master, --paysheet and --period are required (or set them under [run] in the config)")
	}
	return req, nil
}

// signalContext Ctrl+C 取消运行；取消只在开始写入主台账之前生效
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func planCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build the change set without touching the master (dry run)",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(true)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			res, err := runner.Plan(ctx, req)
			if err != nil {
				return err
			}
			return printResult(cmd, res, req, f.jsonOut)
		},
	}
	f.bind(cmd)
	return cmd
}

// printResult 输出结果并设置退出码
func printResult(cmd *cobra.Command, res *pipeline.Result, req pipeline.Request, jsonOut bool) error {
	exitCode = res.Code.ExitCode()
	out := cmd.OutOrStdout()
	if jsonOut {
		return writeJSON(out, res)
	}
	doc := report.Document{
		Period:    req.Period,
		Master:    req.Master,
		DryRun:    res.DryRun,
		Code:      res.Code,
		ChangeSet: res.ChangeSet,
		Applied:   res.Applied,
		Files:     res.Files,
		Policies:  runner.Profile.Policies,
	}
	if res.ApplyError != "" {
		doc.ApplyError = errors.New(res.ApplyError)
	}
	if err := report.Write(out, doc); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nRun %s", res.RunID)
	if res.DryRun && res.Code != model.CodeValidationFailed && !res.ChangeSet.Empty() {
		fmt.Fprintf(out, " (apply with: accrualsync apply %s)", res.RunID)
	}
	fmt.Fprintln(out)
	if res.ReportPath != "" {
		fmt.Fprintf(out, "Results log: %s\n", res.ReportPath)
	}
	return nil
}
