package parser

import (
	"testing"

	"accrualsync/internal/config"
	"accrualsync/internal/model"
)

func defaultPolicies(t *testing.T) *model.PolicyTable {
	t.Helper()
	policies, err := config.DefaultConfig().Policies()
	if err != nil {
		t.Fatalf("policies: %v", err)
	}
	return policies
}

func TestFieldMapper_Map(t *testing.T) {
	t.Parallel()

	m := NewFieldMapper(defaultPolicies(t))
	mappings := m.Map([]string{"File #", "Payroll Name", "Pay Period", "May Hours", "Billed to the Client", "Pay Date", "Notes", "last_updated"})

	want := map[int]string{1: "employee_id", 2: "name", 3: "period", 4: "hours", 5: "amount", 6: "pay_date", 8: "last_updated"}
	got := Columns(mappings)
	if len(got) != len(want) {
		t.Fatalf("mapped=%v, want %v", got, want)
	}
	for col, field := range want {
		if got[col] != field {
			t.Fatalf("column %d=%q, want %q", col, got[col], field)
		}
	}
}

func TestFieldMapper_IdentityFirstColumnWinsOnTie(t *testing.T) {
	t.Parallel()

	m := NewFieldMapper(defaultPolicies(t))
	got := Columns(m.Map([]string{"File #", "File #", "Amount"}))
	if len(got) != 2 || got[1] != "employee_id" || got[3] != "amount" {
		t.Fatalf("mapped=%v, want identity only from column 1", got)
	}
}

func TestFieldMapper_KeepsEveryColumnOfMergeableField(t *testing.T) {
	t.Parallel()

	m := NewFieldMapper(defaultPolicies(t))
	mappings := m.Map([]string{"File #", "Employee Name", "Regular Amount", "Retro Amount"})
	got := Columns(mappings)
	if got[3] != "amount" || got[4] != "amount" {
		t.Fatalf("mapped=%v, want both amount columns", got)
	}
	if p := Primary(mappings); p["amount"] != 3 || p["employee_id"] != 1 {
		t.Fatalf("primary=%v, want leftmost amount column", p)
	}
}

func TestSheetRecognizer_FindsHeaderBelowTitle(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"ACME Staffing"},
		{"Paysheet for May 2024"},
		{},
		{"Employee ID", "Name", "Period", "Hours", "Amount"},
		{"E100", "Ann", "2024-05", "8", "120.50"},
	}
	r := NewSheetRecognizer(defaultPolicies(t), 10)
	res := r.Recognize("Sheet1", rows)
	if res.SheetType != SheetTypePaysheet {
		t.Fatalf("type=%s, want paysheet", res.SheetType)
	}
	if res.HeaderRow != 4 {
		t.Fatalf("header row=%d, want 4", res.HeaderRow)
	}
	if len(res.Missing) != 0 {
		t.Fatalf("missing=%v", res.Missing)
	}
	if got := Fields(res.Mappings); len(got) != 5 || got[0] != "employee_id" {
		t.Fatalf("fields=%v", got)
	}
}

func TestSheetRecognizer_Unknown(t *testing.T) {
	t.Parallel()

	r := NewSheetRecognizer(defaultPolicies(t), 10)
	res := r.Recognize("Notes", [][]string{{"foo", "bar"}, {"1", "2"}})
	if res.SheetType != SheetTypeUnknown || res.HeaderRow != 0 {
		t.Fatalf("res=%+v, want unknown", res)
	}
	if len(res.Missing) != 2 {
		t.Fatalf("missing=%v, want both identity fields", res.Missing)
	}
}

func TestSheetRecognizer_RecognizeAt(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"Profit Sharing"},
		{},
		{"App ID", "Period", "Payroll Name", "Hours"},
	}
	r := NewSheetRecognizer(defaultPolicies(t), 0)
	res := r.RecognizeAt("Profit Sharing", rows, 3)
	if res.SheetType != SheetTypeMaster {
		t.Fatalf("type=%s missing=%v, want master", res.SheetType, res.Missing)
	}
	if res := r.RecognizeAt("Profit Sharing", rows, 9); res.SheetType != SheetTypeUnknown {
		t.Fatalf("out of range header row should be unknown")
	}
}
