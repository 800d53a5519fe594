package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"accrualsync/internal/model"
)

// Writer 把变更集写回主台账工作簿，实现 applier.Target
type Writer struct {
	snap   *model.MasterSnapshot
	logger *zap.Logger
}

// NewWriter 创建写入器；snap 必须是生成变更集时读取的快照
func NewWriter(snap *model.MasterSnapshot, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{snap: snap, logger: logger}
}

// Path 主台账路径
func (w *Writer) Path() string {
	return w.snap.Path
}

// Write 写入全部变更并保存：先保存到同目录临时文件，再改名覆盖主台账
func (w *Writer) Write(ctx context.Context, cs *model.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := excelize.OpenFile(w.snap.Path)
	if err != nil {
		return fmt.Errorf("failed to open master: %w", err)
	}
	defer f.Close()

	sheet := w.snap.Sheet
	columns, err := w.ensureColumns(f, sheet, cs.Mutations)
	if err != nil {
		return err
	}
	rows, err := w.assignRows(f, sheet, cs.Mutations)
	if err != nil {
		return err
	}

	cells := make([]string, 0, len(cs.Mutations))
	for _, m := range cs.Mutations {
		cell, err := excelize.CoordinatesToCellName(columns[m.Field], rows[m.EntityKey])
		if err != nil {
			return err
		}
		cells = append(cells, cell)
	}
	if err := unmergeTargets(f, sheet, cells); err != nil {
		return err
	}
	for i, m := range cs.Mutations {
		if err := writeValue(f, sheet, cells[i], m.New); err != nil {
			return fmt.Errorf("failed to write %s %s at %s: %w", m.EntityKey, m.Field, cells[i], err)
		}
	}

	return saveAtomic(f, w.snap.Path)
}

// ensureColumns 返回 字段 -> 列号；主台账缺少的字段列追加在表头末尾
func (w *Writer) ensureColumns(f *excelize.File, sheet string, muts []model.FieldMutation) (map[string]int, error) {
	columns := make(map[string]int, len(w.snap.Columns))
	next := 1
	for field, col := range w.snap.Columns {
		columns[field] = col
		if col >= next {
			next = col + 1
		}
	}
	header, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if w.snap.HeaderRow-1 < len(header) {
		if n := len(header[w.snap.HeaderRow-1]) + 1; n > next {
			next = n
		}
	}

	for _, m := range muts {
		if _, ok := columns[m.Field]; ok {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(next, w.snap.HeaderRow)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellStr(sheet, cell, m.Field); err != nil {
			return nil, fmt.Errorf("failed to create column %s: %w", m.Field, err)
		}
		w.logger.Info("created master column", zap.String("field", m.Field), zap.String("cell", cell))
		columns[m.Field] = next
		next++
	}
	return columns, nil
}

// assignRows 返回 实体键 -> 行号；新实体追加在最后一个非空行之后
func (w *Writer) assignRows(f *excelize.File, sheet string, muts []model.FieldMutation) (map[string]int, error) {
	rows := make(map[string]int, len(w.snap.Records))
	next := w.snap.HeaderRow + 1
	for _, r := range w.snap.Records {
		if _, ok := rows[r.EntityKey]; !ok {
			rows[r.EntityKey] = r.Row
		}
		if r.Row >= next {
			next = r.Row + 1
		}
	}
	all, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(all)+1 > next {
		next = len(all) + 1
	}

	for _, m := range muts {
		if _, ok := rows[m.EntityKey]; ok {
			if m.Op == model.OpInsert && w.isKnown(m.EntityKey) {
				return nil, fmt.Errorf("insert for existing entity %s", m.EntityKey)
			}
			continue
		}
		if m.Op != model.OpInsert {
			return nil, fmt.Errorf("update for unknown entity %s", m.EntityKey)
		}
		rows[m.EntityKey] = next
		next++
	}
	return rows, nil
}

func (w *Writer) isKnown(key string) bool {
	for _, r := range w.snap.Records {
		if r.EntityKey == key {
			return true
		}
	}
	return false
}

// unmergeTargets 拆分覆盖目标单元格的合并区域，否则写入值会被合并区域遮住
func unmergeTargets(f *excelize.File, sheet string, cells []string) error {
	merged, err := f.GetMergeCells(sheet)
	if err != nil {
		return fmt.Errorf("failed to read merged cells: %w", err)
	}
	if len(merged) == 0 {
		return nil
	}
	targets := make([][2]int, 0, len(cells))
	for _, c := range cells {
		col, row, err := excelize.CellNameToCoordinates(c)
		if err != nil {
			return err
		}
		targets = append(targets, [2]int{col, row})
	}

	var ranges []string
	for _, mc := range merged {
		c1, r1, err := excelize.CellNameToCoordinates(mc.GetStartAxis())
		if err != nil {
			return err
		}
		c2, r2, err := excelize.CellNameToCoordinates(mc.GetEndAxis())
		if err != nil {
			return err
		}
		for _, t := range targets {
			if t[0] >= c1 && t[0] <= c2 && t[1] >= r1 && t[1] <= r2 {
				ranges = append(ranges, mc.GetStartAxis()+":"+mc.GetEndAxis())
				break
			}
		}
	}
	sort.Strings(ranges)
	for _, r := range ranges {
		parts := strings.SplitN(r, ":", 2)
		if err := f.UnmergeCell(sheet, parts[0], parts[1]); err != nil {
			return fmt.Errorf("failed to unmerge %s: %w", r, err)
		}
	}
	return nil
}

// writeValue 按值类型写入单元格
//
// 数字写原样数字文本，避免 float64 舍入；日期写 2006-01-02 文本，读取时按字段声明解析。
func writeValue(f *excelize.File, sheet, cell string, v model.NormalizedValue) error {
	switch v.Kind {
	case model.KindNumber:
		return f.SetCellDefault(sheet, cell, v.Number.String())
	case model.KindDate, model.KindText:
		return f.SetCellStr(sheet, cell, v.String())
	case model.KindEmpty:
		return f.SetCellValue(sheet, cell, nil)
	default:
		return fmt.Errorf("refusing to write %s value %q", v.Kind, v.Text)
	}
}

// saveAtomic 保存到同目录临时文件后改名；临时文件保留原扩展名以便 excelize 识别格式
func saveAtomic(f *excelize.File, path string) error {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	tmp := filepath.Join(dir, "~"+strings.TrimSuffix(base, ext)+".tmp"+ext)
	if err := f.SaveAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to save master: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace master: %w", err)
	}
	return nil
}
