// Package ledger 读写主台账工作簿（xlsx）。
package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"accrualsync/internal/model"
	"accrualsync/internal/normalize"
	"accrualsync/internal/parser"
)

// Options 主台账读取选项
type Options struct {
	Sheet       string // 主台账 sheet 名；为空或不存在时按名称包含关系查找，再退回唯一 sheet
	HeaderRow   int    // 表头行(1-based)；<=0 时自动识别
	ScanRows    int    // 自动识别时扫描的行数
	Policies    *model.PolicyTable
	PeriodField string
}

// Load 读取主台账，返回快照与读取过程中发现的问题
//
// 快照的 SHA256 与读取的字节一致，Applier 用它拒绝过期的变更集。
func Load(path string, opts Options) (*model.MasterSnapshot, model.ValidationReport, error) {
	var report model.ValidationReport
	if opts.Policies == nil {
		return nil, report, fmt.Errorf("ledger: policy table is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, report, fmt.Errorf("failed to read master: %w", err)
	}
	sum := sha256.Sum256(data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, report, fmt.Errorf("failed to open master: %w", err)
	}
	defer f.Close()

	sheet, err := pickSheet(f, opts.Sheet)
	if err != nil {
		return nil, report, err
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, report, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	rec := parser.NewSheetRecognizer(opts.Policies, opts.ScanRows)
	var header parser.SheetRecognitionResult
	if opts.HeaderRow > 0 {
		header = rec.RecognizeAt(sheet, rows, opts.HeaderRow)
	} else {
		header = rec.Recognize(sheet, rows)
	}
	if header.HeaderRow == 0 || len(header.Missing) > 0 {
		return nil, report, fmt.Errorf("%w: master sheet %s header row %d lacks identity columns %v",
			model.ErrFormat, sheet, header.HeaderRow, header.Missing)
	}

	snap := &model.MasterSnapshot{
		Path:      path,
		Sheet:     sheet,
		HeaderRow: header.HeaderRow,
		Columns:   parser.Primary(header.Mappings),
		SHA256:    hex.EncodeToString(sum[:]),
	}

	for i := header.HeaderRow; i < len(rows); i++ {
		row := rows[i]
		if parser.IsBlankRow(row) {
			continue
		}
		rowNum := i + 1
		fields := make(map[string]model.NormalizedValue, len(snap.Columns))
		for field, col := range snap.Columns {
			p, _ := opts.Policies.Lookup(field)
			raw := ""
			if col-1 < len(row) {
				raw = row[col-1]
			}
			fields[field] = normalize.Normalize(model.RawCell{
				SheetID:      sheet,
				Row:          rowNum,
				Column:       col,
				RawValue:     raw,
				DeclaredType: p.DeclaredType(),
			})
		}
		key, ok := opts.Policies.EntityKey(fields)
		if !ok {
			report.Warnf(model.MatchError, "", fmt.Sprintf("%s!row %d", sheet, rowNum),
				"master row has no usable identity; ignored")
			continue
		}
		mr := &model.MasterRecord{EntityKey: key, Fields: fields, Row: rowNum}
		if opts.PeriodField != "" {
			mr.LastUpdatedPeriod = fields[opts.PeriodField].String()
		}
		snap.Records = append(snap.Records, mr)
	}
	return snap, report, nil
}

// pickSheet 选择主台账 sheet：精确名称 > 忽略大小写 > 名称包含 > 唯一 sheet
func pickSheet(f *excelize.File, want string) (string, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", fmt.Errorf("master workbook has no sheets")
	}
	if want == "" {
		return sheets[0], nil
	}
	for _, s := range sheets {
		if s == want {
			return s, nil
		}
	}
	lw := strings.ToLower(strings.TrimSpace(want))
	for _, s := range sheets {
		if strings.ToLower(strings.TrimSpace(s)) == lw {
			return s, nil
		}
	}
	for _, s := range sheets {
		if strings.Contains(strings.ToLower(s), lw) {
			return s, nil
		}
	}
	if len(sheets) == 1 {
		return sheets[0], nil
	}
	return "", fmt.Errorf("master sheet %q not found (have %s)", want, strings.Join(sheets, ", "))
}
