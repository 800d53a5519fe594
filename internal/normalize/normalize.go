// Package normalize 将原始单元格文本转换为带类型的规范值。
//
// 所有函数均为纯函数：相同输入总是得到相同输出，不读写任何外部状态。
package normalize

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"accrualsync/internal/model"
)

// Normalize 规范化单个单元格
//
// 空白 -> Empty；可识别的数字 -> Number；可识别的日期 -> Date；
// 声明为 number/date 却无法识别 -> Invalid；其余未声明的非空值 -> Text。
func Normalize(cell model.RawCell) model.NormalizedValue {
	raw := strings.TrimSpace(strings.ReplaceAll(cell.RawValue, "\u00a0", " "))
	if raw == "" || isPlaceholder(raw) {
		return model.Empty()
	}

	switch cell.DeclaredType {
	case model.CellTypeText:
		return model.Text(collapseSpaces(raw))
	case model.CellTypeNumber:
		if d, ok := ParseNumber(raw); ok {
			return model.Number(d)
		}
		return model.Invalid(model.ReasonDeclaredMismatch, raw)
	case model.CellTypeDate:
		if t, ok := ParseDate(raw); ok {
			return model.Date(t)
		}
		// Excel 序列日期（RawCellValue 读取时日期以数字出现）
		if d, ok := ParseNumber(raw); ok {
			if t, ok := serialDate(d); ok {
				return model.Date(t)
			}
			return model.Invalid(model.ReasonBadDate, raw)
		}
		return model.Invalid(model.ReasonDeclaredMismatch, raw)
	}

	if d, ok := ParseNumber(raw); ok {
		return model.Number(d)
	}
	if t, ok := ParseDate(raw); ok {
		return model.Date(t)
	}
	if looksNumeric(raw) {
		// 含数字、货币符号但格式无法识别，例如 "$1,23,4"
		return model.Invalid(model.ReasonUnrecognized, raw)
	}
	return model.Text(collapseSpaces(raw))
}

// 会计表格中常用 "-" 表示无值
func isPlaceholder(s string) bool {
	switch s {
	case "-", "–", "—":
		return true
	}
	return false
}

var spaceRe = regexp.MustCompile(`\s+`)

func collapseSpaces(s string) string {
	return spaceRe.ReplaceAllString(s, " ")
}

var numericHintRe = regexp.MustCompile(`^[\s$€£¥₹+\-(]*\d[\d\s.,'()%$€£¥₹\-]*$`)

func looksNumeric(s string) bool {
	return numericHintRe.MatchString(s)
}

// Excel 序列日期的合理范围：1900-01-01 .. 9999-12-31
const (
	minSerial = 1
	maxSerial = 2958465
)

func serialDate(d decimal.Decimal) (time.Time, bool) {
	f := d.InexactFloat64()
	if f < minSerial || f > maxSerial {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(f, false)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
