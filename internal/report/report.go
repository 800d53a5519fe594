// Package report 把变更集与校验报告渲染为可读文本（结果日志、CLI 输出）。
package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"accrualsync/internal/model"
	"accrualsync/internal/parser"
)

// Document 一次运行的完整结果
type Document struct {
	Period      string
	Master      string
	DryRun      bool
	Code        model.ResultCode
	ChangeSet   *model.ChangeSet
	Applied     *model.AppliedSummary
	ApplyError  error
	Files       []*parser.ImportReport
	Policies    *model.PolicyTable
	GeneratedAt time.Time
}

// ResultsFileName 结果日志文件名：Results_<period>_<YYYYMMDD_HHMMSS>.txt
func ResultsFileName(period string, at time.Time) string {
	if period == "" {
		period = "all"
	}
	return "Results_" + period + "_" + at.Format("20060102_150405") + ".txt"
}

// Render 渲染为字符串
func Render(d Document) string {
	var buf bytes.Buffer
	_ = Write(&buf, d)
	return buf.String()
}

// Write 渲染到 w
func Write(w io.Writer, d Document) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Accrual reconciliation, period %s\n", orDash(d.Period))
	fmt.Fprintf(tw, "Master:\t%s\n", orDash(d.Master))
	mode := "apply"
	if d.DryRun {
		mode = "dry run (master not modified)"
	}
	fmt.Fprintf(tw, "Mode:\t%s\n", mode)
	if d.Code != "" {
		fmt.Fprintf(tw, "Result:\t%s\n", d.Code)
	}
	if !d.GeneratedAt.IsZero() {
		fmt.Fprintf(tw, "Generated:\t%s\n", d.GeneratedAt.Format(time.RFC3339))
	}

	if len(d.Files) > 0 {
		fmt.Fprintln(tw, "\nFiles")
		for _, f := range d.Files {
			fmt.Fprintf(tw, "  %s\tsheets %d/%d\trows %d\tcells %d\n",
				f.Filename, f.ImportedSheets, f.TotalSheets, f.TotalRows, f.TotalCells)
			for _, s := range f.Sheets {
				if s.Status != "imported" && len(s.Errors) > 0 {
					fmt.Fprintf(tw, "    skipped %s:\t%s\n", s.SheetName, strings.Join(s.Errors, "; "))
				}
			}
			for _, msg := range f.Warnings {
				fmt.Fprintf(tw, "    ! %s\n", msg)
			}
		}
	}

	if cs := d.ChangeSet; cs != nil {
		errs, warns := cs.Report.Counts()
		fmt.Fprintln(tw, "\nSummary")
		fmt.Fprintf(tw, "  matched %d\tinserted %d\tupdated %d\tunchanged %d\torphans %d\texcluded %d\n",
			cs.Stats.Matched, cs.Stats.Inserted, cs.Stats.Updated, cs.Stats.Unchanged, cs.Stats.Orphans, cs.Stats.Excluded)
		fmt.Fprintf(tw, "  errors %d\twarnings %d\tmutations %d\tentities %d\n", errs, warns, len(cs.Mutations), len(cs.Entities()))

		if len(cs.Mutations) > 0 {
			fmt.Fprintln(tw, "\nChanges")
			for _, m := range cs.Mutations {
				if m.Op == model.OpInsert {
					fmt.Fprintf(tw, "  %s\t+ %s\t%s\n", m.EntityKey, m.Field, FormatValue(d.Policies, m.Field, m.New))
					continue
				}
				fmt.Fprintf(tw, "  %s\t%s\t%s -> %s\n", m.EntityKey, m.Field,
					orDash(FormatValue(d.Policies, m.Field, m.Old)), FormatValue(d.Policies, m.Field, m.New))
			}
		}

		if len(cs.Report.Issues) > 0 {
			fmt.Fprintln(tw, "\nIssues")
			for _, i := range cs.Report.Issues {
				fmt.Fprintf(tw, "  %s\n", i)
			}
		}
	}

	if a := d.Applied; a != nil {
		fmt.Fprintln(tw, "\nApplied")
		fmt.Fprintf(tw, "  inserted %d\tupdated %d\twarned %d\tmutations %d\n", a.Inserted, a.Updated, a.Warned, a.Mutations)
		if a.Backup != nil {
			fmt.Fprintf(tw, "  backup\t%s\n", a.Backup.Path)
		}
	}
	if d.ApplyError != nil {
		fmt.Fprintln(tw, "\nApply failed")
		fmt.Fprintf(tw, "  %v\n", d.ApplyError)
	}

	return tw.Flush()
}

// FormatValue 格式化字段值；声明了货币的数值字段按货币显示
func FormatValue(policies *model.PolicyTable, field string, v model.NormalizedValue) string {
	if v.Kind != model.KindNumber || policies == nil {
		return v.String()
	}
	p, ok := policies.Lookup(field)
	if !ok || p.Currency == "" {
		return v.String()
	}
	return FormatMoney(v.Number, p.Currency)
}

// FormatMoney 按货币显示金额；超出货币精度的值原样显示并附货币代码，不做舍入
func FormatMoney(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.String() + " " + currency
	}
	minor := amount.Shift(int32(cur.Fraction))
	if !minor.Equal(minor.Truncate(0)) {
		return amount.String() + " " + cur.Code
	}
	return money.New(minor.IntPart(), cur.Code).Display()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
