package model

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// MergePolicy 拆分单元格的合并策略
type MergePolicy string

const (
	MergeNone   MergePolicy = "none"   // 不可合并：成员必须一致
	MergeSum    MergePolicy = "sum"    // 金额/工时：求和
	MergeConcat MergePolicy = "concat" // 文本/标签：拼接去重
	MergeRange  MergePolicy = "range"  // 日期/期间：必须落在同一业务区间
)

// KeyGranularity 日期身份字段参与实体键的粒度
type KeyGranularity string

const (
	GranularityMonth KeyGranularity = "month" // 同一报告期间内的不同日期属于同一实体
	GranularityDay   KeyGranularity = "day"
)

// FieldPolicy 单个字段的声明式语义
type FieldPolicy struct {
	Name     string
	Kind     ValueKind
	Merge    MergePolicy
	Identity bool
	Min      *decimal.Decimal
	Max      *decimal.Decimal
	Currency string
	Keywords []string
	// Pattern 身份字段的提取规则，取第一个捕获组（例如员工档案号 `(\d{5,6})`）
	Pattern *regexp.Regexp
	// Granularity 日期身份字段的键粒度；默认按月
	Granularity KeyGranularity
}

// IdentityPart 返回身份字段参与实体键的文本；空值、非法值或不匹配 Pattern 时 ok=false
func (p FieldPolicy) IdentityPart(v NormalizedValue) (string, bool) {
	if v.Kind == KindEmpty || v.Kind == KindInvalid {
		return "", false
	}
	key := v.Key()
	if v.Kind == KindDate && p.Granularity == GranularityMonth {
		key = v.Date.Format(PeriodLayout)
	}
	if p.Pattern == nil {
		return key, true
	}
	m := p.Pattern.FindStringSubmatch(key)
	if m == nil {
		return "", false
	}
	if len(m) > 1 {
		return m[1], true
	}
	return m[0], true
}

// DeclaredType 字段对应的单元格声明类型
func (p FieldPolicy) DeclaredType() CellType {
	switch p.Kind {
	case KindNumber:
		return CellTypeNumber
	case KindDate:
		return CellTypeDate
	case KindText:
		return CellTypeText
	}
	return CellTypeNone
}

// InRange 检查数值是否在 [Min, Max] 内
func (p FieldPolicy) InRange(d decimal.Decimal) bool {
	if p.Min != nil && d.LessThan(*p.Min) {
		return false
	}
	if p.Max != nil && d.GreaterThan(*p.Max) {
		return false
	}
	return true
}

// PolicyTable 按声明顺序排列的字段策略表
type PolicyTable struct {
	fields []FieldPolicy
	index  map[string]int
}

// NewPolicyTable 创建策略表并校验
func NewPolicyTable(fields []FieldPolicy) (*PolicyTable, error) {
	t := &PolicyTable{index: make(map[string]int, len(fields))}
	hasIdentity := false
	for _, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return nil, fmt.Errorf("field policy without name")
		}
		if _, dup := t.index[name]; dup {
			return nil, fmt.Errorf("field %q declared twice", name)
		}
		switch f.Kind {
		case KindEmpty:
			f.Kind = KindText
		case KindInvalid:
			return nil, fmt.Errorf("field %q: invalid kind", name)
		}
		if f.Merge == "" {
			f.Merge = MergeNone
		}
		switch f.Merge {
		case MergeNone:
		case MergeConcat:
			if f.Kind != KindText {
				return nil, fmt.Errorf("field %q: concat policy requires a text field", name)
			}
		case MergeSum:
			if f.Kind != KindNumber {
				return nil, fmt.Errorf("field %q: sum policy requires a number field", name)
			}
		case MergeRange:
			if f.Kind != KindDate {
				return nil, fmt.Errorf("field %q: range policy requires a date field", name)
			}
		default:
			return nil, fmt.Errorf("field %q: unknown merge policy %q", name, f.Merge)
		}
		switch f.Granularity {
		case "", GranularityMonth, GranularityDay:
		default:
			return nil, fmt.Errorf("field %q: unknown key granularity %q", name, f.Granularity)
		}
		if f.Kind != KindDate {
			f.Granularity = ""
		} else if f.Granularity == "" {
			f.Granularity = GranularityMonth
		}
		if f.Identity {
			hasIdentity = true
			f.Merge = MergeNone
		}
		f.Name = name
		t.index[name] = len(t.fields)
		t.fields = append(t.fields, f)
	}
	if !hasIdentity {
		return nil, fmt.Errorf("policy table declares no identity field")
	}
	return t, nil
}

// Fields 返回全部字段（声明顺序）
func (t *PolicyTable) Fields() []FieldPolicy {
	return t.fields
}

// Lookup 按名称查找
func (t *PolicyTable) Lookup(name string) (FieldPolicy, bool) {
	i, ok := t.index[name]
	if !ok {
		return FieldPolicy{}, false
	}
	return t.fields[i], true
}

// Identity 返回身份字段（声明顺序）
func (t *PolicyTable) Identity() []FieldPolicy {
	out := make([]FieldPolicy, 0, 2)
	for _, f := range t.fields {
		if f.Identity {
			out = append(out, f)
		}
	}
	return out
}

// EntityKey 由身份字段值拼出实体键；任一身份字段为空时 ok=false
func (t *PolicyTable) EntityKey(fields map[string]NormalizedValue) (key string, ok bool) {
	parts := make([]string, 0, 2)
	for _, f := range t.Identity() {
		part, ok := f.IdentityPart(fields[f.Name])
		if !ok {
			return "", false
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "|"), true
}

// Layout 描述一个 sheet 中列与字段的对应关系
type Layout struct {
	SheetID   string         `json:"sheetId"`
	Source    string         `json:"source"`
	HeaderRow int            `json:"headerRow"`
	Columns   map[int]string `json:"columns"` // 列号(1-based) -> 字段名
	// Defaults 没有对应列的字段的固定值（例如取自文件名的员工档案号）
	Defaults map[string]string `json:"defaults,omitempty"`
}

// Source 一个薪资表来源（一个文件）的全部单元格
type Source struct {
	Name    string    `json:"name"`
	Cells   []RawCell `json:"-"`
	Layouts []Layout  `json:"layouts"`
}
