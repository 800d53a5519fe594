package resolver

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"accrualsync/internal/model"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func testPolicies(t *testing.T) *model.PolicyTable {
	t.Helper()
	table, err := model.NewPolicyTable([]model.FieldPolicy{
		{Name: "employee_id", Kind: model.KindText, Identity: true},
		{Name: "period", Kind: model.KindDate, Identity: true},
		{Name: "name", Kind: model.KindText, Merge: model.MergeConcat},
		{Name: "amount", Kind: model.KindNumber, Merge: model.MergeSum},
		{Name: "hours", Kind: model.KindNumber, Merge: model.MergeSum, Min: dec("0"), Max: dec("500")},
		{Name: "pay_date", Kind: model.KindDate, Merge: model.MergeRange},
		{Name: "rate", Kind: model.KindNumber},
	})
	if err != nil {
		t.Fatalf("policy table: %v", err)
	}
	return table
}

var sheetColumns = map[int]string{1: "employee_id", 2: "period", 3: "name", 4: "amount", 5: "hours", 6: "pay_date", 7: "rate"}

// sheet 以二维表构造单元格，第一行为表头
func sheet(id string, rows [][]string) ([]model.RawCell, map[string]model.Layout) {
	var cells []model.RawCell
	for r, row := range rows {
		for c, v := range row {
			cells = append(cells, model.RawCell{SheetID: id, Row: r + 1, Column: c + 1, RawValue: v})
		}
	}
	return cells, map[string]model.Layout{id: {SheetID: id, HeaderRow: 1, Columns: sheetColumns}}
}

var header = []string{"ID", "Period", "Name", "Amount", "Hours", "Pay Date", "Rate"}

func resolve(t *testing.T, rows [][]string) Result {
	t.Helper()
	cells, layouts := sheet("pay", append([][]string{header}, rows...))
	return New(testPolicies(t), DefaultOptions()).Resolve(cells, layouts)
}

func TestResolve_SumsSplitRows(t *testing.T) {
	t.Parallel()

	res := resolve(t, [][]string{
		{"E100", "2024-05", "Ann", "120.50", "8", "05/15/2024", "15"},
		{"E100", "2024-05", "Ann", "30.00", "2", "05/31/2024", "15"},
	})
	if len(res.Records) != 1 {
		t.Fatalf("records=%d, want 1 (report=%v)", len(res.Records), res.Report.Issues)
	}
	rec := res.Records[0]
	if rec.EntityKey != "E100|2024-05" {
		t.Fatalf("key=%q", rec.EntityKey)
	}
	if got := rec.Fields["amount"]; got.Kind != model.KindNumber || got.Number.String() != "150.5" {
		t.Fatalf("amount=%s, want 150.50", got)
	}
	if got := rec.Fields["hours"].Number; !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("hours=%s, want 10", got)
	}
	if got := rec.Fields["name"].Text; got != "Ann" {
		t.Fatalf("name=%q, want collapsed duplicate", got)
	}
	if got := rec.Fields["pay_date"].Date; !got.Equal(time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("pay_date=%s, want latest date", got)
	}
	if len(rec.Provenance) != 14 {
		t.Fatalf("provenance=%d, want 14 cells", len(rec.Provenance))
	}
	if len(res.Report.Issues) != 0 {
		t.Fatalf("unexpected issues: %v", res.Report.Issues)
	}
}

func TestResolve_SumIsExact(t *testing.T) {
	t.Parallel()

	rows := make([][]string, 0, 10)
	for i := 0; i < 10; i++ {
		rows = append(rows, []string{"E1", "2024-05", "", "0.1"})
	}
	res := resolve(t, rows)
	if len(res.Records) != 1 {
		t.Fatalf("records=%d, want 1", len(res.Records))
	}
	if got := res.Records[0].Fields["amount"].Number; !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("amount=%s, want exactly 1", got)
	}
}

func TestResolve_InvalidMemberPoisonsSum(t *testing.T) {
	t.Parallel()

	cells, layouts := sheet("pay", [][]string{
		header,
		{"E100", "2024-05", "Ann", "120.50"},
		{"E100", "2024-05", "Ann", "N/A"},
		{"E300", "2024-05", "Bob", "10"},
	})
	for i := range cells {
		if cells[i].Column == 4 {
			cells[i].DeclaredType = model.CellTypeNumber
		}
	}
	res := New(testPolicies(t), DefaultOptions()).Resolve(cells, layouts)

	if len(res.Records) != 1 || res.Records[0].EntityKey != "E300|2024-05" {
		t.Fatalf("records=%v, want only E300", res.Records)
	}
	if len(res.Unresolved) != 1 || res.Unresolved[0].Status != model.StatusInvalid {
		t.Fatalf("unresolved=%+v, want one invalid group", res.Unresolved)
	}
	if diff := cmp.Diff([]string{"E100|2024-05"}, res.Excluded); diff != "" {
		t.Fatalf("excluded mismatch (-want +got):\n%s", diff)
	}
	errs, _ := res.Report.Counts()
	if errs != 1 {
		t.Fatalf("errors=%d, want 1: %v", errs, res.Report.Issues)
	}
	issue := res.Report.Issues[0]
	if issue.Kind != model.FormatError || issue.Location != "pay!D3" {
		t.Fatalf("issue=%+v", issue)
	}
	if !errors.Is(issue.Kind.Sentinel(), model.ErrFormat) {
		t.Fatalf("sentinel mismatch")
	}
}

func TestResolve_VerticalMergeAndContinuation(t *testing.T) {
	t.Parallel()

	res := resolve(t, [][]string{
		{"E100", "2024-05", "Ann", "100"},
		{"", "", "", "25"},       // 纵向合并：身份为空
		{"Retro", "", "", "5"},   // 调整行
		{"E200", "", "Bob", "7"}, // 期间继承自上一行
		{"E300", "2024-05", "Cy", "1"},
	})
	if len(res.Records) != 3 {
		t.Fatalf("records=%d, want 3: %v", len(res.Records), res.Report.Issues)
	}
	if got := res.Records[0].Fields["amount"].Number; !got.Equal(decimal.NewFromInt(130)) {
		t.Fatalf("E100 amount=%s, want 130", got)
	}
	if res.Records[1].EntityKey != "E200|2024-05" {
		t.Fatalf("second key=%q, want E200 with inherited period", res.Records[1].EntityKey)
	}
}

func TestResolve_OrphanFragmentDropped(t *testing.T) {
	t.Parallel()

	res := resolve(t, [][]string{
		{"E100", "2024-05", "Ann", "100"},
		{},
		{"", "", "", "25"},
	})
	if len(res.Records) != 1 {
		t.Fatalf("records=%d, want 1", len(res.Records))
	}
	if got := res.Records[0].Fields["amount"].Number; !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("amount=%s, non-contiguous fragment must not merge", got)
	}
	errs, warns := res.Report.Counts()
	if errs != 1 || warns != 0 {
		t.Fatalf("errors=%d warnings=%d, want a dropped amount reported as an error", errs, warns)
	}
	if loc := res.Report.Issues[0].Location; loc != "pay!D4" {
		t.Fatalf("location=%q, want pay!D4", loc)
	}
}

func TestResolve_OrphanWithoutAmountsWarns(t *testing.T) {
	t.Parallel()

	res := resolve(t, [][]string{
		{"E100", "2024-05", "Ann", "100"},
		{},
		{"", "", "see note"},
	})
	if len(res.Records) != 1 {
		t.Fatalf("records=%d, want 1", len(res.Records))
	}
	errs, warns := res.Report.Counts()
	if errs != 0 || warns != 1 {
		t.Fatalf("errors=%d warnings=%d, want one warning", errs, warns)
	}
}

func TestResolve_UnrecognizedIdentityWithAmountIsError(t *testing.T) {
	t.Parallel()

	table, err := model.NewPolicyTable([]model.FieldPolicy{
		{Name: "employee_id", Kind: model.KindText, Identity: true, Pattern: regexp.MustCompile(`^(E\d+)$`)},
		{Name: "period", Kind: model.KindDate, Identity: true},
		{Name: "amount", Kind: model.KindNumber, Merge: model.MergeSum},
	})
	if err != nil {
		t.Fatalf("policy table: %v", err)
	}
	cells, layouts := sheet("pay", [][]string{
		{"ID", "Period", "Name", "Amount"},
		{"E100", "2024-05", "", "10"},
		{"X-9", "2024-05", "", "40"},
	})
	res := New(table, DefaultOptions()).Resolve(cells, layouts)
	if len(res.Records) != 1 {
		t.Fatalf("records=%d, want 1", len(res.Records))
	}
	if errs, _ := res.Report.Counts(); errs != 1 {
		t.Fatalf("errors=%d, want 1: %v", errs, res.Report.Issues)
	}
}

func TestResolve_TotalRowIgnored(t *testing.T) {
	t.Parallel()

	res := resolve(t, [][]string{
		{"E100", "2024-05", "Ann", "100"},
		{"", "", "Total", "100"},
	})
	if got := res.Records[0].Fields["amount"].Number; !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("amount=%s, total row must not be summed", got)
	}
	if len(res.Report.Issues) != 0 {
		t.Fatalf("issues=%v", res.Report.Issues)
	}
}

func TestResolve_AmbiguousNonMergeable(t *testing.T) {
	t.Parallel()

	res := resolve(t, [][]string{
		{"E100", "2024-05", "Ann", "100", "", "", "15"},
		{"E100", "2024-05", "Ann", "100", "", "", "17"},
	})
	if len(res.Records) != 0 {
		t.Fatalf("ambiguous group must be excluded")
	}
	if len(res.Unresolved) != 1 || res.Unresolved[0].Status != model.StatusAmbiguous {
		t.Fatalf("unresolved=%+v", res.Unresolved)
	}
	if res.Report.Issues[0].Kind != model.AmbiguousSplitError {
		t.Fatalf("kind=%s, want AmbiguousSplitError", res.Report.Issues[0].Kind)
	}
}

func TestResolve_RangePolicy(t *testing.T) {
	t.Parallel()

	cells, layouts := sheet("pay", [][]string{
		header,
		{"E100", "2024-05", "", "1", "", "05/15/2024"},
		{"E100", "2024-05", "", "1", "", "06/01/2024"},
	})
	opts := DefaultOptions()
	opts.Period = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	res := New(testPolicies(t), opts).Resolve(cells, layouts)
	if len(res.Records) != 0 || len(res.Unresolved) != 1 {
		t.Fatalf("out-of-period date must make group ambiguous")
	}
	if res.Report.Issues[0].Kind != model.RangeError {
		t.Fatalf("kind=%s, want RangeError", res.Report.Issues[0].Kind)
	}
}

func TestResolve_IncompatibleTypeIsAmbiguous(t *testing.T) {
	t.Parallel()

	cells, layouts := sheet("pay", [][]string{
		header,
		{"E100", "2024-05", "", "100"},
		{"E100", "2024-05", "", "pending"},
	})
	for i := range cells {
		if cells[i].Row == 3 && cells[i].Column == 4 {
			cells[i].DeclaredType = model.CellTypeText
		}
	}
	res := New(testPolicies(t), DefaultOptions()).Resolve(cells, layouts)
	if len(res.Records) != 0 || len(res.Unresolved) != 1 || res.Unresolved[0].Status != model.StatusAmbiguous {
		t.Fatalf("mixed types must be ambiguous: %+v", res.Unresolved)
	}
}

func TestResolveSources_SeparateSourcesReportDuplicates(t *testing.T) {
	t.Parallel()

	cellsA, layoutsA := sheet("a.xlsx:Sheet1", [][]string{header, {"E100", "2024-05", "Ann", "10"}, {"E300", "2024-05", "Cy", "1"}})
	cellsB, layoutsB := sheet("b.xlsx:Sheet1", [][]string{header, {"E100", "2024-05", "Ann", "20"}})
	sources := []model.Source{
		{Name: "a.xlsx", Cells: cellsA, Layouts: []model.Layout{layoutsA["a.xlsx:Sheet1"]}},
		{Name: "b.xlsx", Cells: cellsB, Layouts: []model.Layout{layoutsB["b.xlsx:Sheet1"]}},
	}

	opts := DefaultOptions()
	opts.MergeAcrossSources = false
	res := New(testPolicies(t), opts).ResolveSources(sources)
	if len(res.Records) != 1 || res.Records[0].EntityKey != "E300|2024-05" {
		t.Fatalf("records=%v, want only E300", res.Records)
	}
	if len(res.Unresolved) != 1 || res.Unresolved[0].Status != model.StatusDuplicate {
		t.Fatalf("unresolved=%+v, want duplicate", res.Unresolved)
	}
	if res.Report.Issues[0].Kind != model.DuplicationError {
		t.Fatalf("kind=%s, want DuplicationError", res.Report.Issues[0].Kind)
	}

	opts.MergeAcrossSources = true
	res = New(testPolicies(t), opts).ResolveSources(sources)
	if len(res.Records) != 2 {
		t.Fatalf("records=%d, want 2", len(res.Records))
	}
	if got := res.Records[0].Fields["amount"].Number; !got.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("merged amount=%s, want 30", got)
	}
}

func TestResolve_LayoutDefaults(t *testing.T) {
	t.Parallel()

	cells := []model.RawCell{
		{SheetID: "s", Row: 1, Column: 1, RawValue: "Period"},
		{SheetID: "s", Row: 2, Column: 1, RawValue: "2024-05"},
		{SheetID: "s", Row: 2, Column: 2, RawValue: "12"},
	}
	layouts := map[string]model.Layout{"s": {
		SheetID: "s", HeaderRow: 1,
		Columns:  map[int]string{1: "period", 2: "amount"},
		Defaults: map[string]string{"employee_id": "123456"},
	}}
	res := New(testPolicies(t), DefaultOptions()).Resolve(cells, layouts)
	if len(res.Records) != 1 || res.Records[0].EntityKey != "123456|2024-05" {
		t.Fatalf("records=%v issues=%v", res.Records, res.Report.Issues)
	}
}

func TestResolve_SameMonthDatesShareEntity(t *testing.T) {
	t.Parallel()

	res := resolve(t, [][]string{
		{"E100", "05/15/2024", "Ann", "120.50"},
		{"E100", "05/31/2024", "Ann", "30.00"},
	})
	if len(res.Records) != 1 {
		t.Fatalf("records=%d, want 1 (report=%v)", len(res.Records), res.Report.Issues)
	}
	rec := res.Records[0]
	if rec.EntityKey != "E100|2024-05" {
		t.Fatalf("key=%q, want E100|2024-05", rec.EntityKey)
	}
	if got := rec.Fields["amount"].Number; !got.Equal(decimal.RequireFromString("150.5")) {
		t.Fatalf("amount=%s, want 150.5", got)
	}
	if got := rec.Fields["period"].Date; !got.Equal(time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("period=%s, want latest date in the group", got)
	}
}

func TestResolve_DayGranularityKeepsDatesApart(t *testing.T) {
	t.Parallel()

	table, err := model.NewPolicyTable([]model.FieldPolicy{
		{Name: "employee_id", Kind: model.KindText, Identity: true},
		{Name: "period", Kind: model.KindDate, Identity: true, Granularity: model.GranularityDay},
		{Name: "amount", Kind: model.KindNumber, Merge: model.MergeSum},
	})
	if err != nil {
		t.Fatalf("policy table: %v", err)
	}
	cells, layouts := sheet("pay", [][]string{
		{"ID", "Period", "Name", "Amount"},
		{"E100", "05/15/2024", "", "120.50"},
		{"E100", "05/31/2024", "", "30.00"},
	})
	res := New(table, DefaultOptions()).Resolve(cells, layouts)
	if len(res.Records) != 2 {
		t.Fatalf("records=%d, want 2 (report=%v)", len(res.Records), res.Report.Issues)
	}
	if res.Records[0].EntityKey != "E100|2024-05-15" {
		t.Fatalf("key=%q", res.Records[0].EntityKey)
	}
}
