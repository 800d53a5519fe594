package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"accrualsync/internal/applier"
	"accrualsync/internal/config"
	"accrualsync/internal/importer"
	"accrualsync/internal/ledger"
	"accrualsync/internal/model"
	"accrualsync/internal/normalize"
	"accrualsync/internal/parser"
	"accrualsync/internal/report"
	"accrualsync/internal/store"
)

// ApplyFunc 应用变更集的函数（默认 applier.Apply）
type ApplyFunc func(ctx context.Context, cs *model.ChangeSet, target applier.Target, opts applier.Options) (*model.AppliedSummary, error)

// Request 一次运行的参数
type Request struct {
	Master    string   `json:"master"`
	Paysheets []string `json:"paysheets"`
	Period    string   `json:"period"`
	DryRun    bool     `json:"dryRun"`
}

// Result 一次运行的结果
type Result struct {
	RunID      string                 `json:"runId,omitempty"`
	Code       model.ResultCode       `json:"code"`
	DryRun     bool                   `json:"dryRun"`
	ChangeSet  *model.ChangeSet       `json:"changeSet"`
	Applied    *model.AppliedSummary  `json:"applied,omitempty"`
	Files      []*parser.ImportReport `json:"files,omitempty"`
	ReportPath string                 `json:"reportPath,omitempty"`
	ApplyError string                 `json:"applyError,omitempty"`
}

// Runner 加载 -> 对账 -> 闸门 -> 应用
type Runner struct {
	Profile config.Profile
	// Store 非空时保存运行历史
	Store *store.Store
	// ReportsDir 非空时把结果日志写入该目录
	ReportsDir string
	Logger     *zap.Logger
	Progress   func(importer.ProgressEvent)
	Now        func() time.Time
	Apply      ApplyFunc
}

// NewRunner 创建运行器
func NewRunner(p config.Profile, st *store.Store, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Profile: p, Store: st, Logger: logger, Now: time.Now, Apply: applier.Apply}
}

// loaded 加载阶段的产物
type loaded struct {
	snap    *model.MasterSnapshot
	sources []model.Source
	files   []*parser.ImportReport
	paths   []string
	report  model.ValidationReport
}

// load 读取主台账与薪资表；薪资表文件级别的问题记为警告
func (r *Runner) load(ctx context.Context, req Request) (*loaded, error) {
	if req.Master == "" {
		return nil, fmt.Errorf("master file is required")
	}
	if len(req.Paysheets) == 0 {
		return nil, fmt.Errorf("at least one paysheet file or folder is required")
	}

	snap, masterReport, err := ledger.Load(req.Master, ledger.Options{
		Sheet:       r.Profile.MasterSheet,
		HeaderRow:   r.Profile.MasterHeaderRow,
		ScanRows:    r.Profile.HeaderScanRows,
		Policies:    r.Profile.Policies,
		PeriodField: r.Profile.PeriodField,
	})
	if err != nil {
		return nil, err
	}
	out := &loaded{snap: snap}
	out.report.Merge(masterReport)

	coord := importer.NewCoordinator(importer.Options{
		Policies:       r.Profile.Policies,
		HeaderScanRows: r.Profile.HeaderScanRows,
		SheetContains:  r.Profile.SheetContains,
		Extensions:     r.Profile.Extensions,
		Workers:        r.Profile.Workers,
		Defaults:       r.periodDefaults(req.Period),
		Logger:         r.Logger,
		Progress:       r.Progress,
	})
	for _, p := range req.Paysheets {
		files, warnings, err := coord.Discover(p)
		if err != nil {
			return nil, err
		}
		for _, w := range warnings {
			out.report.Warnf(model.FormatError, "", p, "%s", w)
		}
		out.paths = append(out.paths, files...)
	}
	if len(out.paths) == 0 {
		return nil, fmt.Errorf("no paysheet files found in %v", req.Paysheets)
	}

	out.sources, out.files, err = coord.Load(ctx, out.paths)
	if err != nil {
		return nil, err
	}
	for _, f := range out.files {
		for _, w := range f.Warnings {
			out.report.Warnf(model.FormatError, "", f.Filename, "%s", w)
		}
		if f.ImportedSheets == 0 && len(f.Warnings) == 0 {
			out.report.Warnf(model.FormatError, "", f.Filename, "no sheet with recognizable headers")
		}
	}
	return out, nil
}

// periodDefaults 缺少期间列的薪资表使用运行期间的最后一天
func (r *Runner) periodDefaults(period string) map[string]string {
	t, ok := normalize.ParsePeriod(period)
	if !ok || r.Profile.Policies == nil {
		return nil
	}
	defaults := make(map[string]string)
	for _, f := range r.Profile.Policies.Identity() {
		if f.Kind == model.KindDate {
			defaults[f.Name] = PeriodEnd(t).Format(model.DateLayout)
		}
	}
	return defaults
}

// Plan 只生成变更集，不修改主台账
func (r *Runner) Plan(ctx context.Context, req Request) (*Result, error) {
	req.DryRun = true
	return r.Run(ctx, req)
}

// Run 执行一次完整运行；DryRun 时在计划之后停止，Applier 不会被调用
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	in, err := r.load(ctx, req)
	if err != nil {
		return nil, err
	}
	outcome, err := Reconcile(Input{Sources: in.sources, Master: in.snap, Period: req.Period}, r.Profile)
	if err != nil {
		return nil, err
	}
	cs := outcome.ChangeSet
	var merged model.ValidationReport
	merged.Merge(in.report)
	merged.Merge(cs.Report)
	cs.Report = merged
	cs.CreatedAt = r.now().UTC()

	res := &Result{DryRun: req.DryRun, ChangeSet: cs, Files: in.files}
	run := &store.Run{
		Profile:    r.Profile.Name,
		Period:     req.Period,
		MasterPath: req.Master,
		Paysheets:  in.paths,
		DryRun:     req.DryRun,
	}

	gated := cs.Report.HasErrors() && !r.Profile.ApplyOnErrors
	switch {
	case req.DryRun:
		res.Code = ResultFor(cs, false, nil)
	case gated:
		res.Code = model.CodeValidationFailed
		run.Status = store.RunRejected
	}
	if res.Code != "" {
		run.ResultCode = res.Code
	}
	if err := r.record(run, cs, in); err != nil {
		return nil, err
	}
	res.RunID = run.ID

	if req.DryRun || gated {
		r.Logger.Info("run planned",
			zap.String("run", run.ID),
			zap.Bool("dry_run", req.DryRun),
			zap.String("code", string(res.Code)),
			zap.Int("mutations", len(cs.Mutations)))
		r.writeResults(res, req.Period, req.Master)
		return res, nil
	}

	r.applyPlanned(ctx, res, in.snap)
	r.writeResults(res, req.Period, req.Master)
	return res, nil
}

// ApplyStored 应用之前保存的运行（例如先 dry run 审阅后再应用）
func (r *Runner) ApplyStored(ctx context.Context, runID string) (*Result, error) {
	if r.Store == nil {
		return nil, fmt.Errorf("run history is not available")
	}
	run, err := r.Store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	cs, err := r.Store.LoadChangeSet(runID)
	if err != nil {
		return nil, err
	}
	if cs.Consumed() {
		return nil, fmt.Errorf("%w: run %s is %s", model.ErrAlreadyConsumed, runID, run.Status)
	}
	res := &Result{RunID: runID, ChangeSet: cs}
	if cs.Report.HasErrors() && !r.Profile.ApplyOnErrors {
		res.Code = model.CodeValidationFailed
		return res, nil
	}

	snap, _, err := ledger.Load(run.MasterPath, ledger.Options{
		Sheet:       r.Profile.MasterSheet,
		HeaderRow:   r.Profile.MasterHeaderRow,
		ScanRows:    r.Profile.HeaderScanRows,
		Policies:    r.Profile.Policies,
		PeriodField: r.Profile.PeriodField,
	})
	if err != nil {
		return nil, err
	}
	if snap.SHA256 != cs.MasterSHA256 {
		return nil, fmt.Errorf("%w: %s", model.ErrStaleChangeSet, run.MasterPath)
	}

	r.applyPlanned(ctx, res, snap)
	r.writeResults(res, run.Period, run.MasterPath)
	return res, nil
}

// applyPlanned 调用 Applier 并记录结果；写入失败不作为 Go 错误返回，体现在结果码中
func (r *Runner) applyPlanned(ctx context.Context, res *Result, snap *model.MasterSnapshot) {
	cs := res.ChangeSet
	summary, err := r.Apply(ctx, cs, ledger.NewWriter(snap, r.Logger), applier.Options{
		Backup:       r.Profile.Backup,
		BackupDir:    r.Profile.BackupDir,
		ExpectSHA256: cs.MasterSHA256,
		Logger:       r.Logger,
		Now:          r.now,
	})
	res.Applied = summary
	res.Code = ResultFor(cs, err == nil, err)
	if err != nil {
		res.ApplyError = err.Error()
		var ae *model.ApplyError
		if errors.As(err, &ae) {
			cs.Report.Errorf(model.ApplyErrorKind, "", ae.Path, "%v", ae)
		} else {
			cs.Report.Errorf(model.ApplyErrorKind, "", cs.MasterPath, "%v", err)
		}
		r.Logger.Error("apply failed", zap.String("run", res.RunID), zap.Error(err))
	}

	if r.Store == nil || res.RunID == "" {
		return
	}
	if err != nil {
		if serr := r.Store.MarkApplyFailed(res.RunID, err, res.Code); serr != nil {
			r.Logger.Warn("failed to record run", zap.String("run", res.RunID), zap.Error(serr))
		}
		return
	}
	if serr := r.Store.MarkApplied(res.RunID, summary, res.Code); serr != nil {
		r.Logger.Warn("failed to record run", zap.String("run", res.RunID), zap.Error(serr))
	}
}

// record 保存运行与文件加载记录；未配置 Store 时只生成 ID
func (r *Runner) record(run *store.Run, cs *model.ChangeSet, in *loaded) error {
	if r.Store == nil {
		cs.ID = uuid.NewString()
		run.ID = cs.ID
		return nil
	}
	run.CreatedAt = cs.CreatedAt
	if err := r.Store.CreateRun(run, cs); err != nil {
		return err
	}
	for i, f := range in.files {
		sha, size, err := applier.HashFile(in.paths[i])
		if err != nil {
			r.Logger.Warn("failed to hash paysheet", zap.String("file", in.paths[i]), zap.Error(err))
		}
		if _, err := r.Store.CreateImportLog(run.ID, in.paths[i], size, sha, f); err != nil {
			return err
		}
	}
	if err := r.Store.SetLastRun(run.Period, run.MasterPath); err != nil {
		r.Logger.Warn("failed to record last run", zap.Error(err))
	}
	return nil
}

// writeResults 写结果日志；失败只记录日志
func (r *Runner) writeResults(res *Result, period, master string) {
	if r.ReportsDir == "" {
		return
	}
	now := r.now()
	doc := report.Document{
		Period:      period,
		Master:      master,
		DryRun:      res.DryRun,
		Code:        res.Code,
		ChangeSet:   res.ChangeSet,
		Applied:     res.Applied,
		Files:       res.Files,
		Policies:    r.Profile.Policies,
		GeneratedAt: now,
	}
	if res.ApplyError != "" {
		doc.ApplyError = errors.New(res.ApplyError)
	}
	if err := os.MkdirAll(r.ReportsDir, 0755); err != nil {
		r.Logger.Warn("failed to create reports dir", zap.Error(err))
		return
	}
	path := filepath.Join(r.ReportsDir, report.ResultsFileName(period, now))
	if err := os.WriteFile(path, []byte(report.Render(doc)), 0644); err != nil {
		r.Logger.Warn("failed to write results log", zap.String("path", path), zap.Error(err))
		return
	}
	res.ReportPath = path
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}
