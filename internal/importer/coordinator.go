// Package importer 发现并并发加载薪资表文件，产出带表头映射的单元格来源。
package importer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"accrualsync/internal/model"
	"accrualsync/internal/parser"
)

// Options 薪资表加载选项
type Options struct {
	Policies       *model.PolicyTable
	HeaderScanRows int
	// SheetContains 非空时只加载名称包含其中任一关键词的 sheet（忽略大小写）
	SheetContains []string
	Extensions    []string
	Workers       int
	// Defaults 所有 sheet 都缺少对应列时使用的字段值（例如运行期间）
	Defaults map[string]string
	Logger   *zap.Logger
	// Progress 进度回调；可能被多个 goroutine 并发调用
	Progress func(ProgressEvent)
}

// ProgressEvent 进度事件
type ProgressEvent struct {
	Type      string      `json:"type"`    // start/sheet_done/file_done/warning/done
	Message   string      `json:"message"` // 事件消息
	Data      interface{} `json:"data"`    // 附加数据
	Timestamp time.Time   `json:"timestamp"`
}

// Coordinator 薪资表加载协调器：发现文件、识别表头、产出 RawCell
type Coordinator struct {
	opts       Options
	recognizer *parser.SheetRecognizer
	logger     *zap.Logger
	progressMu sync.Mutex
}

// NewCoordinator 创建加载协调器
func NewCoordinator(opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".xlsx", ".xlsm"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		opts:       opts,
		recognizer: parser.NewSheetRecognizer(opts.Policies, opts.HeaderScanRows),
		logger:     logger,
	}
}

// Discover 列出待加载的薪资表文件；path 可以是文件或目录（递归）
//
// 返回的 warnings 包含需要转换格式的 .xls 文件等提示。
func (c *Coordinator) Discover(path string) ([]string, []string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat paysheet path: %w", err)
	}
	if !info.IsDir() {
		if !c.accepts(path) {
			return nil, nil, fmt.Errorf("unsupported paysheet file: %s", path)
		}
		return []string{path}, nil, nil
	}

	var files, warnings []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		// Excel 打开时生成的锁文件与本工具写出的备份
		if strings.HasPrefix(name, "~$") || strings.Contains(name, "_BACKUP_") {
			return nil
		}
		if strings.EqualFold(filepath.Ext(name), ".xls") {
			warnings = append(warnings, fmt.Sprintf("%s is a legacy .xls file; save it as .xlsx to include it", p))
			return nil
		}
		if c.accepts(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan paysheet folder: %w", err)
	}
	sort.Strings(files)
	return files, warnings, nil
}

func (c *Coordinator) accepts(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range c.opts.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Load 并行读取多个文件；结果与输入顺序一致
//
// 单个文件无法读取时记录到该文件的报告中并继续，只有取消会中止加载。
func (c *Coordinator) Load(ctx context.Context, paths []string) ([]model.Source, []*parser.ImportReport, error) {
	sources := make([]model.Source, len(paths))
	reports := make([]*parser.ImportReport, len(paths))

	c.sendProgress(ProgressEvent{
		Type:    "start",
		Message: fmt.Sprintf("开始加载 %d 个薪资表文件", len(paths)),
		Data:    map[string]int{"files": len(paths)},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src, report := c.LoadFile(p)
			sources[i] = src
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	c.sendProgress(ProgressEvent{Type: "done", Message: "加载完成", Data: reports})
	return sources, reports, nil
}

// LoadFile 读取单个文件的全部可识别 sheet
func (c *Coordinator) LoadFile(path string) (model.Source, *parser.ImportReport) {
	start := time.Now()
	name := filepath.Base(path)
	src := model.Source{Name: name}
	report := &parser.ImportReport{Filename: name, Sheets: []parser.ParseResult{}}

	file, err := excelize.OpenFile(path)
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("打开文件失败: %v", err))
		c.logger.Warn("failed to open paysheet", zap.String("file", path), zap.Error(err))
		c.sendProgress(ProgressEvent{Type: "warning", Message: fmt.Sprintf("无法打开 %s", name)})
		return src, report
	}
	defer file.Close()

	sheets := file.GetSheetList()
	report.TotalSheets = len(sheets)
	for _, sheet := range sheets {
		res, layout, cells := c.processSheet(file, path, sheet)
		report.Sheets = append(report.Sheets, res)
		if res.Status != "imported" {
			report.SkippedSheets++
			continue
		}
		report.ImportedSheets++
		report.TotalRows += res.Rows
		report.TotalCells += res.Cells
		src.Layouts = append(src.Layouts, layout)
		src.Cells = append(src.Cells, cells...)
	}
	report.Duration = time.Since(start)

	c.logger.Info("paysheet loaded",
		zap.String("file", name),
		zap.Int("sheets", report.ImportedSheets),
		zap.Int("cells", report.TotalCells))
	c.sendProgress(ProgressEvent{
		Type:    "file_done",
		Message: fmt.Sprintf("%s: %d/%d 个 sheet", name, report.ImportedSheets, report.TotalSheets),
		Data:    report,
	})
	return src, report
}

// SheetID 单元格位置中使用的 sheet 标识：[文件名]sheet
func SheetID(file, sheet string) string {
	return "[" + file + "]" + sheet
}

// processSheet 识别表头并产出单元格
func (c *Coordinator) processSheet(file *excelize.File, path, sheet string) (parser.ParseResult, model.Layout, []model.RawCell) {
	start := time.Now()
	res := parser.ParseResult{SheetName: sheet, SheetType: parser.SheetTypeUnknown, Status: "skipped"}

	if !c.sheetWanted(sheet) {
		res.Errors = []string{"sheet 名称不在加载范围内"}
		return res, model.Layout{}, nil
	}

	rows, err := file.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		res.Status = "error"
		res.Errors = []string{fmt.Sprintf("读取 Sheet 失败: %v", err)}
		return res, model.Layout{}, nil
	}

	recognition := c.recognizer.Recognize(sheet, rows)
	res.HeaderRow = recognition.HeaderRow
	if recognition.HeaderRow == 0 {
		res.Errors = []string{"未找到表头行"}
		res.Duration = time.Since(start)
		return res, model.Layout{}, nil
	}

	name := filepath.Base(path)
	layout := model.Layout{
		SheetID:   SheetID(name, sheet),
		Source:    name,
		HeaderRow: recognition.HeaderRow,
		Columns:   parser.Columns(recognition.Mappings),
	}
	var missing []string
	for _, field := range recognition.Missing {
		if v, ok := c.defaultFor(path, field); ok {
			if layout.Defaults == nil {
				layout.Defaults = make(map[string]string)
			}
			layout.Defaults[field] = v
			continue
		}
		missing = append(missing, field)
	}
	if len(missing) > 0 {
		res.Errors = []string{fmt.Sprintf("缺少身份字段列: %s", strings.Join(missing, ", "))}
		res.Duration = time.Since(start)
		return res, model.Layout{}, nil
	}

	declared := make(map[int]model.CellType, len(layout.Columns))
	for col, field := range layout.Columns {
		if p, ok := c.opts.Policies.Lookup(field); ok {
			declared[col] = p.DeclaredType()
		}
	}

	var cells []model.RawCell
	for i := recognition.HeaderRow; i < len(rows); i++ {
		if parser.IsBlankRow(rows[i]) {
			continue
		}
		res.Rows++
		for j, raw := range rows[i] {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			cells = append(cells, model.RawCell{
				SheetID:      layout.SheetID,
				Row:          i + 1,
				Column:       j + 1,
				RawValue:     raw,
				DeclaredType: declared[j+1],
			})
		}
	}
	res.SheetType = parser.SheetTypePaysheet
	res.Status = "imported"
	res.Cells = len(cells)
	res.Duration = time.Since(start)
	return res, layout, cells
}

// defaultFor 缺列字段的取值：身份字段先按 Pattern 从文件名提取，再取配置的默认值
func (c *Coordinator) defaultFor(path, field string) (string, bool) {
	if p, ok := c.opts.Policies.Lookup(field); ok && p.Pattern != nil {
		if v, ok := parser.ExtractFromFilename(path, p.Pattern); ok {
			return v, true
		}
	}
	v, ok := c.opts.Defaults[field]
	return v, ok && v != ""
}

func (c *Coordinator) sheetWanted(sheet string) bool {
	if len(c.opts.SheetContains) == 0 {
		return true
	}
	_, ok := parser.ContainsAny(parser.NormalizeColumnName(sheet), c.opts.SheetContains)
	return ok
}

// sendProgress 发送进度事件
func (c *Coordinator) sendProgress(evt ProgressEvent) {
	if c.opts.Progress == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	c.progressMu.Lock()
	defer c.progressMu.Unlock()
	c.opts.Progress(evt)
}
