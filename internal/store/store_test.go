package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"accrualsync/internal/model"
	"accrualsync/internal/parser"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "data", "accrualsync.db"))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleChangeSet() *model.ChangeSet {
	cs := &model.ChangeSet{
		Period:       "2024-05",
		MasterPath:   "/data/Accruals.xlsx",
		MasterSHA256: "abc123",
		Mutations: []model.FieldMutation{
			{EntityKey: "E100", Field: "amount", Op: model.OpUpdate, Old: model.Number(decimal.RequireFromString("100")), New: model.Number(decimal.RequireFromString("150.50"))},
			{EntityKey: "E300", Field: "employee_id", Op: model.OpInsert, Old: model.Empty(), New: model.Text("E300")},
		},
		Stats: model.ChangeStats{Matched: 1, Updated: 1, Inserted: 1, Orphans: 1},
	}
	cs.Report.Warnf(model.MatchError, "E200", "row 5", "master entity has no paysheet record in this batch; left unchanged")
	return cs
}

func TestCreateAndGetRun(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	cs := sampleChangeSet()
	run := &Run{Profile: "default", Period: "2024-05", MasterPath: cs.MasterPath, Paysheets: []string{"a.xlsx", "b.xlsx"}, DryRun: true}
	if err := st.CreateRun(run, cs); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID == "" || cs.ID != run.ID {
		t.Fatalf("run id=%q change set id=%q", run.ID, cs.ID)
	}

	got, err := st.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunPlanned || got.Mutations != 2 || got.Warnings != 1 || got.Errors != 0 {
		t.Fatalf("run=%+v", got)
	}
	if len(got.Paysheets) != 2 || !got.DryRun || got.MasterSHA256 != "abc123" {
		t.Fatalf("run=%+v", got)
	}
	if got.AppliedAt != nil {
		t.Fatalf("applied_at set on a planned run")
	}

	loaded, err := st.LoadChangeSet(run.ID)
	if err != nil {
		t.Fatalf("LoadChangeSet: %v", err)
	}
	if loaded.Consumed() {
		t.Fatalf("planned change set must not be consumed")
	}
	if len(loaded.Mutations) != 2 || !loaded.Mutations[0].New.Equal(model.Number(decimal.RequireFromString("150.5"))) {
		t.Fatalf("mutations=%+v", loaded.Mutations)
	}
	if loaded.Stats != cs.Stats || len(loaded.Report.Issues) != 1 {
		t.Fatalf("stats=%+v issues=%v", loaded.Stats, loaded.Report.Issues)
	}
}

func TestMarkAppliedOnlyOnce(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	cs := sampleChangeSet()
	run := &Run{MasterPath: cs.MasterPath}
	if err := st.CreateRun(run, cs); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	summary := &model.AppliedSummary{Inserted: 1, Updated: 1, Mutations: 2, Backup: &model.BackupSnapshot{Path: "/data/backups/Accruals_BACKUP_20240531_093000.xlsx"}}
	if err := st.MarkApplied(run.ID, summary, model.CodeSuccessWithWarnings); err != nil {
		t.Fatalf("MarkApplied: %v", err)
	}
	got, err := st.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunApplied || got.ResultCode != model.CodeSuccessWithWarnings || got.AppliedAt == nil {
		t.Fatalf("run=%+v", got)
	}
	if got.BackupPath != summary.Backup.Path {
		t.Fatalf("backup=%q", got.BackupPath)
	}

	if err := st.MarkApplyFailed(run.ID, errors.New("late"), model.CodeApplyFailed); !errors.Is(err, model.ErrAlreadyConsumed) {
		t.Fatalf("err=%v, want ErrAlreadyConsumed", err)
	}
	loaded, err := st.LoadChangeSet(run.ID)
	if err != nil {
		t.Fatalf("LoadChangeSet: %v", err)
	}
	if !loaded.Consumed() {
		t.Fatalf("applied change set must come back consumed")
	}
}

func TestMarkApplyFailed(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	cs := sampleChangeSet()
	run := &Run{MasterPath: cs.MasterPath}
	if err := st.CreateRun(run, cs); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := st.MarkApplyFailed(run.ID, errors.New("disk full"), model.CodeApplyFailed); err != nil {
		t.Fatalf("MarkApplyFailed: %v", err)
	}
	got, _ := st.GetRun(run.ID)
	if got.Status != RunApplyFailed || got.ErrorMessage != "disk full" || got.Inserted != 1 {
		t.Fatalf("run=%+v", got)
	}
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	if _, err := st.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err=%v, want ErrRunNotFound", err)
	}
	if _, err := st.LoadChangeSet("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err=%v, want ErrRunNotFound", err)
	}
	if err := st.MarkApplied("missing", &model.AppliedSummary{}, model.CodeSuccess); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err=%v, want ErrRunNotFound", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	base := time.Date(2024, 5, 31, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		run := &Run{ID: id, MasterPath: "m.xlsx", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := st.CreateRun(run, &model.ChangeSet{}); err != nil {
			t.Fatalf("CreateRun %s: %v", id, err)
		}
	}
	runs, err := st.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r3" || runs[1].ID != "r2" {
		t.Fatalf("runs=%v", runs)
	}
}

func TestImportLogsAndConfig(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	run := &Run{ID: "r1", MasterPath: "m.xlsx"}
	if err := st.CreateRun(run, &model.ChangeSet{}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	report := &parser.ImportReport{Filename: "May.xlsx", TotalSheets: 2, ImportedSheets: 1, SkippedSheets: 1, TotalRows: 3, TotalCells: 9, Warnings: []string{"w1"}}
	if _, err := st.CreateImportLog("r1", "/in/May.xlsx", 1024, "ff", report); err != nil {
		t.Fatalf("CreateImportLog: %v", err)
	}
	logs, err := st.ListImportLogs("r1")
	if err != nil {
		t.Fatalf("ListImportLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].TotalCells != 9 || logs[0].Warnings != "w1" {
		t.Fatalf("logs=%+v", logs)
	}

	if err := st.SetLastRun("2024-05", "m.xlsx"); err != nil {
		t.Fatalf("SetLastRun: %v", err)
	}
	all, err := st.GetAllConfig()
	if err != nil {
		t.Fatalf("GetAllConfig: %v", err)
	}
	if all[KeyLastPeriod] != "2024-05" || all[KeyLastMaster] != "m.xlsx" {
		t.Fatalf("config=%v", all)
	}
	if _, err := st.GetConfig("missing"); err == nil {
		t.Fatalf("expected error for missing key")
	}
}
