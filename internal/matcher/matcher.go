// Package matcher 按实体键把薪资记录与主台账行对齐。
package matcher

import (
	"sort"
	"strconv"
	"strings"

	"accrualsync/internal/model"
)

// Outcome 匹配结果
type Outcome struct {
	// Results 先按记录顺序输出 Matched/NewEntity，再按主台账行序输出 OrphanMaster
	Results []model.MatchResult
	// Excluded 因主台账键冲突而排除的实体键
	Excluded []string
	Report   model.ValidationReport
}

// Index 主台账索引：实体键 -> 行
type Index struct {
	rows       map[string]*model.MasterRecord
	order      []*model.MasterRecord
	collisions map[string][]*model.MasterRecord
	repeats    []*model.MasterRecord
}

// NewIndex 为快照建立索引；同一键对应多行时，内容一致的视为同一行，否则记为冲突
func NewIndex(snap *model.MasterSnapshot) *Index {
	idx := &Index{
		rows:       make(map[string]*model.MasterRecord),
		collisions: make(map[string][]*model.MasterRecord),
	}
	if snap == nil {
		return idx
	}
	for _, rec := range snap.Records {
		prev, ok := idx.rows[rec.EntityKey]
		if !ok {
			idx.rows[rec.EntityKey] = rec
			idx.order = append(idx.order, rec)
			continue
		}
		if sameContent(prev, rec) {
			idx.repeats = append(idx.repeats, rec)
			continue
		}
		if _, seen := idx.collisions[rec.EntityKey]; !seen {
			idx.collisions[rec.EntityKey] = []*model.MasterRecord{prev}
		}
		idx.collisions[rec.EntityKey] = append(idx.collisions[rec.EntityKey], rec)
	}
	return idx
}

// Lookup 按键查找
func (idx *Index) Lookup(key string) (*model.MasterRecord, bool) {
	rec, ok := idx.rows[key]
	return rec, ok
}

// Len 索引中的实体数
func (idx *Index) Len() int {
	return len(idx.rows)
}

// Match 匹配；skip 中的键（上游已排除的实体）既不匹配也不报告为孤儿
func Match(records []*model.CanonicalRecord, snap *model.MasterSnapshot, skip []string) Outcome {
	return NewIndex(snap).Match(records, skip)
}

// Match 使用已建立的索引匹配
func (idx *Index) Match(records []*model.CanonicalRecord, skip []string) Outcome {
	var out Outcome

	skipped := make(map[string]struct{}, len(skip))
	for _, k := range skip {
		skipped[k] = struct{}{}
	}

	// 键冲突：报告一次，相关实体全部排除
	keys := make([]string, 0, len(idx.collisions))
	for k := range idx.collisions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows := idx.collisions[k]
		nums := make([]string, 0, len(rows))
		for _, r := range rows {
			nums = append(nums, strconv.Itoa(r.Row))
		}
		out.Report.Errorf(model.MatchError, k, "", "master rows %s share one key but differ", strings.Join(nums, ", "))
		out.Excluded = append(out.Excluded, k)
		skipped[k] = struct{}{}
	}

	for _, rec := range idx.repeats {
		if _, ok := idx.collisions[rec.EntityKey]; ok {
			continue
		}
		out.Report.Warnf(model.MatchError, rec.EntityKey, "", "master row %d repeats row %d; only the first is updated",
			rec.Row, idx.rows[rec.EntityKey].Row)
	}

	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, ok := skipped[rec.EntityKey]; ok {
			continue
		}
		seen[rec.EntityKey] = struct{}{}
		if master, ok := idx.rows[rec.EntityKey]; ok {
			out.Results = append(out.Results, model.MatchResult{Kind: model.MatchMatched, Record: rec, Master: master})
			continue
		}
		out.Results = append(out.Results, model.MatchResult{Kind: model.MatchNewEntity, Record: rec})
	}

	for _, master := range idx.order {
		if _, ok := seen[master.EntityKey]; ok {
			continue
		}
		if _, ok := skipped[master.EntityKey]; ok {
			continue
		}
		out.Results = append(out.Results, model.MatchResult{Kind: model.MatchOrphanMaster, Master: master})
	}
	return out
}

// sameContent 两行的全部字段是否一致
func sameContent(a, b *model.MasterRecord) bool {
	for name, v := range a.Fields {
		if !v.Equal(b.Fields[name]) {
			return false
		}
	}
	for name, v := range b.Fields {
		if _, ok := a.Fields[name]; !ok && !v.IsEmpty() {
			return false
		}
	}
	return true
}
