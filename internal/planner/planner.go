// Package planner 根据匹配结果计算把主台账更新到最新所需的最小字段变更集。
//
// Planner 不写任何文件：非法或越界的实体被排除并记录到校验报告中，从不写入猜测值。
package planner

import (
	"strconv"

	"github.com/shopspring/decimal"

	"accrualsync/internal/model"
	"accrualsync/internal/normalize"
)

// Options 计划参数
type Options struct {
	Policies *model.PolicyTable
	// Tolerance 数值比较容差；零表示精确比较（默认值来自配置 numeric_tolerance）
	Tolerance decimal.Decimal
	// PeriodField 实体有变更时同时写入的期间戳字段；为空表示不写
	PeriodField string
	// Period 运行期间（"2006-01"）
	Period string
}

// Plan 生成变更集；ID、主台账路径等元数据由调用方填写
func Plan(results []model.MatchResult, opts Options) *model.ChangeSet {
	p := &planner{opts: opts, cs: &model.ChangeSet{Period: opts.Period}}
	for _, r := range results {
		switch r.Kind {
		case model.MatchMatched:
			p.matched(r.Record, r.Master)
		case model.MatchNewEntity:
			p.newEntity(r.Record)
		case model.MatchOrphanMaster:
			p.cs.Stats.Orphans++
			p.cs.Report.Warnf(model.MatchError, r.Master.EntityKey, rowLocation(r.Master),
				"master entity has no paysheet record in this batch; left unchanged")
		}
	}
	return p.cs
}

type planner struct {
	opts Options
	cs   *model.ChangeSet
}

func (p *planner) matched(rec *model.CanonicalRecord, master *model.MasterRecord) {
	p.cs.Stats.Matched++
	if !p.validate(rec) {
		return
	}

	var muts []model.FieldMutation
	for _, f := range p.opts.Policies.Fields() {
		if f.Identity || f.Name == p.opts.PeriodField {
			continue
		}
		newV := rec.Fields[f.Name]
		if newV.IsEmpty() {
			// 薪资表中的空值不清除主台账中的值
			continue
		}
		oldV := master.Fields[f.Name]
		if Equivalent(f, oldV, newV, p.opts.Tolerance) {
			continue
		}
		muts = append(muts, model.FieldMutation{EntityKey: rec.EntityKey, Field: f.Name, Op: model.OpUpdate, Old: oldV, New: newV})
	}
	if len(muts) == 0 {
		p.cs.Stats.Unchanged++
		return
	}
	if stamp, ok := p.periodStamp(); ok {
		if old := master.Fields[p.opts.PeriodField]; !old.Equal(stamp) {
			muts = append(muts, model.FieldMutation{EntityKey: rec.EntityKey, Field: p.opts.PeriodField, Op: model.OpUpdate, Old: old, New: stamp})
		}
	}
	p.cs.Stats.Updated++
	p.cs.Mutations = append(p.cs.Mutations, muts...)
}

func (p *planner) newEntity(rec *model.CanonicalRecord) {
	if !p.validate(rec) {
		return
	}
	var muts []model.FieldMutation
	for _, f := range p.opts.Policies.Fields() {
		if f.Name == p.opts.PeriodField {
			continue
		}
		v := rec.Fields[f.Name]
		if v.IsEmpty() {
			continue
		}
		muts = append(muts, model.FieldMutation{EntityKey: rec.EntityKey, Field: f.Name, Op: model.OpInsert, Old: model.Empty(), New: v})
	}
	if stamp, ok := p.periodStamp(); ok {
		muts = append(muts, model.FieldMutation{EntityKey: rec.EntityKey, Field: p.opts.PeriodField, Op: model.OpInsert, Old: model.Empty(), New: stamp})
	}
	p.cs.Stats.Inserted++
	p.cs.Mutations = append(p.cs.Mutations, muts...)
}

// validate 检查非法值与取值范围；不通过的实体被排除
func (p *planner) validate(rec *model.CanonicalRecord) bool {
	ok := true
	for _, f := range p.opts.Policies.Fields() {
		v := rec.Fields[f.Name]
		switch {
		case v.IsInvalid():
			p.cs.Report.Errorf(model.FormatError, rec.EntityKey, firstLocation(rec),
				"field %s has invalid value %q (%s)", f.Name, v.Text, v.Reason)
			ok = false
		case v.Kind == model.KindNumber && !f.InRange(v.Number):
			p.cs.Report.Errorf(model.RangeError, rec.EntityKey, firstLocation(rec),
				"field %s value %s outside %s", f.Name, v.Number, describeRange(f))
			ok = false
		}
	}
	if !ok {
		p.cs.Stats.Excluded++
	}
	return ok
}

func (p *planner) periodStamp() (model.NormalizedValue, bool) {
	if p.opts.PeriodField == "" || p.opts.Period == "" {
		return model.Empty(), false
	}
	f, ok := p.opts.Policies.Lookup(p.opts.PeriodField)
	if !ok {
		return model.Empty(), false
	}
	v := normalize.Normalize(model.RawCell{RawValue: p.opts.Period, DeclaredType: f.DeclaredType()})
	if v.IsEmpty() || v.IsInvalid() {
		return model.Empty(), false
	}
	return v, true
}

// Equivalent 按字段语义比较：数值使用容差，文本/日期精确比较
func Equivalent(f model.FieldPolicy, a, b model.NormalizedValue, tolerance decimal.Decimal) bool {
	if f.Kind == model.KindNumber && a.Kind == model.KindNumber && b.Kind == model.KindNumber {
		return a.Number.Sub(b.Number).Abs().LessThanOrEqual(tolerance)
	}
	return a.Equal(b)
}

func describeRange(f model.FieldPolicy) string {
	lo, hi := "-inf", "+inf"
	if f.Min != nil {
		lo = f.Min.String()
	}
	if f.Max != nil {
		hi = f.Max.String()
	}
	return "[" + lo + ", " + hi + "]"
}

func firstLocation(rec *model.CanonicalRecord) string {
	if len(rec.Provenance) == 0 {
		return ""
	}
	return rec.Provenance[0].Location()
}

func rowLocation(m *model.MasterRecord) string {
	if m.Row == 0 {
		return ""
	}
	return "row " + strconv.Itoa(m.Row)
}
