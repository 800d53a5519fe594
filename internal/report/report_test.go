package report

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"accrualsync/internal/config"
	"accrualsync/internal/model"
	"accrualsync/internal/parser"
)

func TestFormatMoney(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, cur, want string
	}{
		{"150.5", "USD", "$150.50"},
		{"1234.56", "USD", "$1,234.56"},
		{"-30", "USD", "-$30.00"},
		{"0.125", "USD", "0.125 USD"},
		{"10", "XXX-NOPE", "10 XXX-NOPE"},
	}
	for _, tc := range cases {
		if got := FormatMoney(decimal.RequireFromString(tc.in), tc.cur); got != tc.want {
			t.Fatalf("FormatMoney(%s, %s)=%q, want %q", tc.in, tc.cur, got, tc.want)
		}
	}
}

func TestResultsFileName(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 31, 9, 30, 0, 0, time.UTC)
	if got := ResultsFileName("2024-05", at); got != "Results_2024-05_20240531_093000.txt" {
		t.Fatalf("ResultsFileName=%s", got)
	}
	if got := ResultsFileName("", at); got != "Results_all_20240531_093000.txt" {
		t.Fatalf("ResultsFileName=%s", got)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	policies, err := config.DefaultConfig().Policies()
	if err != nil {
		t.Fatalf("policies: %v", err)
	}
	cs := &model.ChangeSet{
		Mutations: []model.FieldMutation{
			{EntityKey: "12345|2024-05", Field: "amount", Op: model.OpUpdate,
				Old: model.Number(decimal.RequireFromString("100")), New: model.Number(decimal.RequireFromString("150.5"))},
			{EntityKey: "34567|2024-05", Field: "employee_id", Op: model.OpInsert, Old: model.Empty(), New: model.Text("34567")},
		},
		Stats: model.ChangeStats{Matched: 1, Updated: 1, Inserted: 1, Orphans: 1},
	}
	cs.Report.Warnf(model.MatchError, "23456|2024-05", "row 5", "master entity has no paysheet record in this batch; left unchanged")

	out := Render(Document{
		Period:    "2024-05",
		Master:    "Accruals.xlsx",
		DryRun:    true,
		Code:      model.CodeSuccessWithWarnings,
		ChangeSet: cs,
		Policies:  policies,
		Files: []*parser.ImportReport{{
			Filename: "May.xlsx", TotalSheets: 2, ImportedSheets: 1, TotalRows: 3, TotalCells: 9,
			Sheets: []parser.ParseResult{{SheetName: "Notes", Status: "skipped", Errors: []string{"未找到表头行"}}},
		}},
		ApplyError: errors.New("not reached"),
	})

	for _, want := range []string{
		"period 2024-05",
		"dry run",
		"SuccessWithWarnings",
		"$100.00 -> $150.50",
		"+ employee_id",
		"[warning] MatchError 23456|2024-05 @row 5",
		"skipped Notes:",
		"orphans 1",
		"entities 2",
		"Apply failed",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
