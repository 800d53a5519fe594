package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"accrualsync/internal/config"
	"accrualsync/internal/model"
	"accrualsync/internal/pipeline"
	"accrualsync/internal/store"
)

func saveSheet(t *testing.T, path, sheet string, rows [][]any) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		t.Fatalf("rename: %v", err)
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save: %v", err)
	}
}

type testEnv struct {
	router    *gin.Engine
	master    string
	paysheets string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	master := filepath.Join(dir, "Accruals.xlsx")
	saveSheet(t, master, "Profit Sharing", [][]any{
		{"Profit Sharing Accruals"},
		{},
		{"File #", "Period", "Employee Name", "Amount", "Last Updated"},
		{"12345", "2024-05-31", "Ann", 100, "2024-04"},
	})
	paysheets := filepath.Join(dir, "paysheets")
	if err := os.MkdirAll(paysheets, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	saveSheet(t, filepath.Join(paysheets, "May.xlsx"), "Pay", [][]any{
		{"File #", "Employee Name", "Billed to the Client"},
		{"12345", "Ann", "120.50"},
		{"Retro", nil, "30.00"},
	})

	cfg := config.DefaultConfig()
	cfg.Data.DataDir = filepath.Join(dir, "data")
	cfg.Data.BackupDir = filepath.Join(dir, "backups")
	profile, err := cfg.Profile()
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	st, err := store.New(filepath.Join(dir, "data", "accrualsync.db"))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	h := NewHandler(pipeline.NewRunner(profile, st, nil), st, nil)
	r := gin.New()
	h.RegisterRoutes(r.Group("/api"))
	return &testEnv{router: r, master: master, paysheets: paysheets}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) plan(t *testing.T) pipeline.Result {
	t.Helper()
	w := e.do(http.MethodPost, "/api/plan", PlanRequest{Master: e.master, Paysheets: []string{e.paysheets}, Period: "2024-05"})
	if w.Code != http.StatusOK {
		t.Fatalf("plan status=%d body=%s", w.Code, w.Body.String())
	}
	var res pipeline.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v body=%s", err, w.Body.String())
	}
	return res
}

func TestPlanThenApply(t *testing.T) {
	env := newTestEnv(t)
	before, _ := os.ReadFile(env.master)

	res := env.plan(t)
	if res.RunID == "" || !res.DryRun || res.Code != model.CodeSuccess {
		t.Fatalf("plan result: id=%q dry=%v code=%s", res.RunID, res.DryRun, res.Code)
	}
	if len(res.ChangeSet.Mutations) != 2 {
		t.Fatalf("mutations=%+v, want amount and last_updated", res.ChangeSet.Mutations)
	}
	after, _ := os.ReadFile(env.master)
	if !bytes.Equal(before, after) {
		t.Fatalf("plan modified the master")
	}

	w := env.do(http.MethodGet, "/api/runs", nil)
	var list struct {
		Items []store.Run `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list.Items) != 1 {
		t.Fatalf("runs=%s err=%v", w.Body.String(), err)
	}
	if list.Items[0].Status != store.RunPlanned {
		t.Fatalf("status=%s, want planned", list.Items[0].Status)
	}

	w = env.do(http.MethodGet, "/api/runs/"+res.RunID, nil)
	var detail struct {
		ID         string            `json:"id"`
		ChangeSet  model.ChangeSet   `json:"changeSet"`
		ImportLogs []store.ImportLog `json:"importLogs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("unmarshal detail: %v body=%s", err, w.Body.String())
	}
	if detail.ID != res.RunID || len(detail.ChangeSet.Mutations) != 2 || len(detail.ImportLogs) != 1 {
		t.Fatalf("detail=%s", w.Body.String())
	}

	w = env.do(http.MethodGet, "/api/runs/"+res.RunID+"/report", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "$100.00 -> $150.50") {
		t.Fatalf("report status=%d body=%s", w.Code, w.Body.String())
	}

	w = env.do(http.MethodPost, "/api/runs/"+res.RunID+"/apply", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("apply status=%d body=%s", w.Code, w.Body.String())
	}
	after, _ = os.ReadFile(env.master)
	if bytes.Equal(before, after) {
		t.Fatalf("apply did not modify the master")
	}

	w = env.do(http.MethodPost, "/api/runs/"+res.RunID+"/apply", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second apply status=%d, want 409", w.Code)
	}

	w = env.do(http.MethodGet, "/api/status", nil)
	var status StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.TotalRuns != 1 || status.Pending != 0 || status.LastPeriod != "2024-05" {
		t.Fatalf("status=%+v", status)
	}
}

func TestPlanRejectsBadRequest(t *testing.T) {
	env := newTestEnv(t)

	cases := []any{
		map[string]any{"paysheets": []string{env.paysheets}, "period": "2024-05"},
		map[string]any{"master": env.master, "paysheets": []string{}, "period": "2024-05"},
		PlanRequest{Master: env.master, Paysheets: []string{env.paysheets}, Period: "May 2024"},
	}
	for i, body := range cases {
		if w := env.do(http.MethodPost, "/api/plan", body); w.Code != http.StatusBadRequest {
			t.Fatalf("case %d: status=%d body=%s", i, w.Code, w.Body.String())
		}
	}
}

func TestUnknownRun(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/runs/nope", "/api/runs/nope/report"} {
		if w := env.do(http.MethodGet, path, nil); w.Code != http.StatusNotFound {
			t.Fatalf("%s status=%d, want 404", path, w.Code)
		}
	}
	if w := env.do(http.MethodPost, "/api/runs/nope/apply", nil); w.Code != http.StatusNotFound {
		t.Fatalf("apply status=%d, want 404", w.Code)
	}
}

func TestApplyStaleRunConflicts(t *testing.T) {
	env := newTestEnv(t)
	res := env.plan(t)

	f, err := excelize.OpenFile(env.master)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = f.SetCellValue("Profit Sharing", "D4", 1)
	if err := f.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	f.Close()

	if w := env.do(http.MethodPost, "/api/runs/"+res.RunID+"/apply", nil); w.Code != http.StatusConflict {
		t.Fatalf("status=%d body=%s, want 409", w.Code, w.Body.String())
	}
}
