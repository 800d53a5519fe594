package parser

import "time"

// SheetType Sheet 类型
type SheetType string

const (
	SheetTypePaysheet SheetType = "paysheet"
	SheetTypeMaster   SheetType = "master"
	SheetTypeUnknown  SheetType = "unknown"
)

// FieldMapping 字段映射结果
type FieldMapping struct {
	ColumnIndex int    `json:"columnIndex"` // 列号（1-based）
	ColumnName  string `json:"columnName"`  // 原始表头文本
	Field       string `json:"field"`       // 字段名
	Keyword     string `json:"keyword"`     // 命中的关键词
}

// SheetRecognitionResult Sheet 识别结果
type SheetRecognitionResult struct {
	SheetName  string               `json:"sheetName"`
	SheetType  SheetType            `json:"sheetType"`
	HeaderRow  int                  `json:"headerRow"`  // 表头所在行（1-based），0 表示未找到
	Confidence float64              `json:"confidence"` // 置信度 0-1
	Mappings   map[int]FieldMapping `json:"mappings"`
	Missing    []string             `json:"missing,omitempty"` // 未找到的身份字段
}

// ParseResult 单个 Sheet 的解析结果
type ParseResult struct {
	SheetName string        `json:"sheetName"`
	SheetType SheetType     `json:"sheetType"`
	Status    string        `json:"status"` // imported/skipped/error
	HeaderRow int           `json:"headerRow"`
	Rows      int           `json:"rows"`
	Cells     int           `json:"cells"`
	Errors    []string      `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// ImportReport 单个文件的导入报告
type ImportReport struct {
	Filename       string        `json:"filename"`
	TotalSheets    int           `json:"totalSheets"`
	ImportedSheets int           `json:"importedSheets"`
	SkippedSheets  int           `json:"skippedSheets"`
	TotalRows      int           `json:"totalRows"`
	TotalCells     int           `json:"totalCells"`
	Duration       time.Duration `json:"duration"`
	Sheets         []ParseResult `json:"sheets"`
	Warnings       []string      `json:"warnings,omitempty"`
}
