package parser

import (
	"sort"

	"accrualsync/internal/model"
)

// FieldMapper 按字段策略表中的关键词把表头映射到字段
type FieldMapper struct {
	policies *model.PolicyTable
}

// NewFieldMapper 创建字段映射器
func NewFieldMapper(policies *model.PolicyTable) *FieldMapper {
	return &FieldMapper{policies: policies}
}

// Map 映射一行表头，返回 列号(1-based) -> 映射
//
// 一个列命中多个字段时取关键词最长（最具体）的字段。
// 身份字段只取一列：关键词最长的列，相同时取最左列；
// 其余字段保留全部命中的列，由合并策略决定求和、拼接或报告不一致。
func (m *FieldMapper) Map(columnNames []string) map[int]FieldMapping {
	mappings := make(map[int]FieldMapping)
	identity := make(map[string]FieldMapping)
	for idx, raw := range columnNames {
		col := NormalizeColumnName(raw)
		if col == "" {
			continue
		}
		mapping, ok := m.mapColumn(col)
		if !ok {
			continue
		}
		mapping.ColumnIndex = idx + 1
		mapping.ColumnName = raw

		if p, _ := m.policies.Lookup(mapping.Field); !p.Identity {
			mappings[mapping.ColumnIndex] = mapping
			continue
		}
		prev, seen := identity[mapping.Field]
		if !seen || len(mapping.Keyword) > len(prev.Keyword) {
			identity[mapping.Field] = mapping
		}
	}
	for _, mapping := range identity {
		mappings[mapping.ColumnIndex] = mapping
	}
	return mappings
}

// Primary 每个字段的主列：关键词最长的列，相同时取最左列（主台账读写只用一列）
func Primary(mappings map[int]FieldMapping) map[string]int {
	best := make(map[string]FieldMapping, len(mappings))
	for _, m := range mappings {
		prev, seen := best[m.Field]
		if !seen || len(m.Keyword) > len(prev.Keyword) ||
			(len(m.Keyword) == len(prev.Keyword) && m.ColumnIndex < prev.ColumnIndex) {
			best[m.Field] = m
		}
	}
	out := make(map[string]int, len(best))
	for field, m := range best {
		out[field] = m.ColumnIndex
	}
	return out
}

// mapColumn 映射单个已规范化的列名
func (m *FieldMapper) mapColumn(col string) (FieldMapping, bool) {
	best := FieldMapping{}
	for _, f := range m.policies.Fields() {
		// 表头与字段名完全一致时直接命中（程序自己写出的列）
		if col == NormalizeColumnName(f.Name) {
			return FieldMapping{Field: f.Name, Keyword: col}, true
		}
		for _, kw := range f.Keywords {
			kw = NormalizeColumnName(kw)
			if kw == "" || !containsWord(col, kw) {
				continue
			}
			if len(kw) > len(best.Keyword) {
				best = FieldMapping{Field: f.Name, Keyword: kw}
			}
		}
	}
	return best, best.Field != ""
}

// Fields 返回映射结果中的字段名（按列号排序）
func Fields(mappings map[int]FieldMapping) []string {
	cols := make([]int, 0, len(mappings))
	for c := range mappings {
		cols = append(cols, c)
	}
	sort.Ints(cols)
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, mappings[c].Field)
	}
	return out
}

// Columns 转为 列号 -> 字段名
func Columns(mappings map[int]FieldMapping) map[int]string {
	out := make(map[int]string, len(mappings))
	for c, m := range mappings {
		out[c] = m.Field
	}
	return out
}
