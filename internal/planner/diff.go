package planner

import (
	"sort"

	"accrualsync/internal/model"
)

// Diff 计算两个主台账快照之间的字段变更（精确比较，不使用容差）
//
// 用于验证：对快照应用变更集后再与原快照比较，应当恰好得到应用的变更。
func Diff(before, after *model.MasterSnapshot, policies *model.PolicyTable) []model.FieldMutation {
	old := make(map[string]*model.MasterRecord, len(before.Records))
	for _, rec := range before.Records {
		if _, dup := old[rec.EntityKey]; !dup {
			old[rec.EntityKey] = rec
		}
	}

	var muts []model.FieldMutation
	seen := make(map[string]struct{}, len(after.Records))
	for _, rec := range after.Records {
		if _, dup := seen[rec.EntityKey]; dup {
			continue
		}
		seen[rec.EntityKey] = struct{}{}

		prev, ok := old[rec.EntityKey]
		for _, f := range policies.Fields() {
			newV := rec.Fields[f.Name]
			if !ok {
				if !newV.IsEmpty() {
					muts = append(muts, model.FieldMutation{EntityKey: rec.EntityKey, Field: f.Name, Op: model.OpInsert, Old: model.Empty(), New: newV})
				}
				continue
			}
			if f.Identity {
				continue
			}
			if oldV := prev.Fields[f.Name]; !oldV.Equal(newV) {
				muts = append(muts, model.FieldMutation{EntityKey: rec.EntityKey, Field: f.Name, Op: model.OpUpdate, Old: oldV, New: newV})
			}
		}
	}
	return muts
}

// SortMutations 按实体键、字段名排序（用于比较两组变更）
func SortMutations(muts []model.FieldMutation) {
	sort.SliceStable(muts, func(i, j int) bool {
		if muts[i].EntityKey != muts[j].EntityKey {
			return muts[i].EntityKey < muts[j].EntityKey
		}
		return muts[i].Field < muts[j].Field
	})
}

// Apply 在内存中对快照应用变更，返回新快照（不修改原快照）
//
// 与 ledger 写入器的语义一致：update 改写已有行，insert 追加新行。
func Apply(snap *model.MasterSnapshot, muts []model.FieldMutation) *model.MasterSnapshot {
	out := *snap
	out.Records = make([]*model.MasterRecord, 0, len(snap.Records))
	byKey := make(map[string]*model.MasterRecord, len(snap.Records))
	nextRow := snap.HeaderRow + 1
	for _, rec := range snap.Records {
		cp := &model.MasterRecord{EntityKey: rec.EntityKey, Row: rec.Row, LastUpdatedPeriod: rec.LastUpdatedPeriod, Fields: make(map[string]model.NormalizedValue, len(rec.Fields))}
		for k, v := range rec.Fields {
			cp.Fields[k] = v
		}
		out.Records = append(out.Records, cp)
		if _, dup := byKey[rec.EntityKey]; !dup {
			byKey[rec.EntityKey] = cp
		}
		if rec.Row >= nextRow {
			nextRow = rec.Row + 1
		}
	}

	for _, m := range muts {
		rec, ok := byKey[m.EntityKey]
		if !ok {
			rec = &model.MasterRecord{EntityKey: m.EntityKey, Row: nextRow, Fields: make(map[string]model.NormalizedValue)}
			nextRow++
			byKey[m.EntityKey] = rec
			out.Records = append(out.Records, rec)
		}
		rec.Fields[m.Field] = m.New
	}
	return &out
}
