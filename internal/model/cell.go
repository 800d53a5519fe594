package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// CellType 单元格声明类型（由加载器根据字段策略设置）
type CellType string

const (
	CellTypeNone   CellType = ""
	CellTypeNumber CellType = "number"
	CellTypeDate   CellType = "date"
	CellTypeText   CellType = "text"
)

// RawCell 原始单元格，读取后不可变
type RawCell struct {
	SheetID      string   `json:"sheetId"`
	Row          int      `json:"row"`    // 1-based
	Column       int      `json:"column"` // 1-based
	RawValue     string   `json:"rawValue"`
	DeclaredType CellType `json:"declaredType,omitempty"`
}

// Cell 返回 A1 形式的单元格坐标
func (c RawCell) Cell() string {
	name, err := excelize.CoordinatesToCellName(c.Column, c.Row)
	if err != nil {
		return fmt.Sprintf("R%dC%d", c.Row, c.Column)
	}
	return name
}

// Location 返回 "sheet!A1" 形式的位置，用于报告
func (c RawCell) Location() string {
	return c.SheetID + "!" + c.Cell()
}

// ValueKind 规范化后的值类型
type ValueKind int

const (
	KindEmpty ValueKind = iota
	KindNumber
	KindDate
	KindText
	KindInvalid
)

var kindNames = map[ValueKind]string{
	KindEmpty:   "empty",
	KindNumber:  "number",
	KindDate:    "date",
	KindText:    "text",
	KindInvalid: "invalid",
}

func (k ValueKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseValueKind 解析类型名
func ParseValueKind(s string) (ValueKind, error) {
	for k, name := range kindNames {
		if name == strings.ToLower(strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown value kind %q", s)
}

// ReasonCode Invalid 值的原因
type ReasonCode string

const (
	ReasonUnrecognized     ReasonCode = "unrecognized_format"
	ReasonDeclaredMismatch ReasonCode = "declared_type_mismatch"
	ReasonBadDate          ReasonCode = "invalid_date"
	ReasonMergedInvalid    ReasonCode = "invalid_member"
)

// DateLayout 日期的规范文本格式
const DateLayout = "2006-01-02"

// PeriodLayout 报告期间（自然月）的文本格式
const PeriodLayout = "2006-01"

// NormalizedValue 规范化后的单元格值
type NormalizedValue struct {
	Kind   ValueKind
	Number decimal.Decimal
	Date   time.Time
	Text   string
	Reason ReasonCode
}

// Empty 空值
func Empty() NormalizedValue { return NormalizedValue{Kind: KindEmpty} }

// Number 数值
func Number(d decimal.Decimal) NormalizedValue { return NormalizedValue{Kind: KindNumber, Number: d} }

// Date 日期（截断到 UTC 零点）
func Date(t time.Time) NormalizedValue {
	y, m, d := t.Date()
	return NormalizedValue{Kind: KindDate, Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// Text 文本
func Text(s string) NormalizedValue { return NormalizedValue{Kind: KindText, Text: s} }

// Invalid 非法值，保留原始文本
func Invalid(reason ReasonCode, raw string) NormalizedValue {
	return NormalizedValue{Kind: KindInvalid, Reason: reason, Text: raw}
}

func (v NormalizedValue) IsEmpty() bool   { return v.Kind == KindEmpty }
func (v NormalizedValue) IsInvalid() bool { return v.Kind == KindInvalid }

// Equal 精确比较（数值按 decimal 比较，不使用容差）
func (v NormalizedValue) Equal(o NormalizedValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindEmpty:
		return true
	case KindNumber:
		return v.Number.Equal(o.Number)
	case KindDate:
		return v.Date.Equal(o.Date)
	case KindInvalid:
		return v.Reason == o.Reason && v.Text == o.Text
	default:
		return v.Text == o.Text
	}
}

// String 规范文本形式；对 Number/Date/Text 再次规范化得到同一个值
func (v NormalizedValue) String() string {
	switch v.Kind {
	case KindEmpty:
		return ""
	case KindNumber:
		return v.Number.String()
	case KindDate:
		return v.Date.Format(DateLayout)
	case KindInvalid:
		return fmt.Sprintf("invalid(%s: %q)", v.Reason, v.Text)
	default:
		return v.Text
	}
}

// Key 用于拼接实体键的文本
func (v NormalizedValue) Key() string {
	if v.Kind == KindText {
		return strings.ToUpper(v.Text)
	}
	return v.String()
}

type valueJSON struct {
	Kind   string     `json:"kind"`
	Value  string     `json:"value,omitempty"`
	Reason ReasonCode `json:"reason,omitempty"`
}

// MarshalJSON 输出 {"kind":"number","value":"150.5"}
func (v NormalizedValue) MarshalJSON() ([]byte, error) {
	out := valueJSON{Kind: v.Kind.String()}
	switch v.Kind {
	case KindEmpty:
	case KindInvalid:
		out.Value = v.Text
		out.Reason = v.Reason
	default:
		out.Value = v.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON 读取 MarshalJSON 的输出（用于持久化的变更集）
func (v *NormalizedValue) UnmarshalJSON(data []byte) error {
	var in valueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	kind, err := ParseValueKind(in.Kind)
	if err != nil {
		return err
	}
	switch kind {
	case KindEmpty:
		*v = Empty()
	case KindNumber:
		d, err := decimal.NewFromString(in.Value)
		if err != nil {
			return fmt.Errorf("decode number %q: %w", in.Value, err)
		}
		*v = Number(d)
	case KindDate:
		t, err := time.Parse(DateLayout, in.Value)
		if err != nil {
			return fmt.Errorf("decode date %q: %w", in.Value, err)
		}
		*v = Date(t)
	case KindText:
		*v = Text(in.Value)
	case KindInvalid:
		*v = Invalid(in.Reason, in.Value)
	}
	return nil
}
