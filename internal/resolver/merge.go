package resolver

import (
	"fmt"
	"strings"
	"time"

	"accrualsync/internal/model"
	"accrualsync/internal/normalize"
)

// merge 合并同一实体的全部片段
func (r *Resolver) merge(key string, frags []*fragment, report *model.ValidationReport) (*model.SplitCellGroup, *model.CanonicalRecord) {
	group := &model.SplitCellGroup{EntityKey: key, Status: model.StatusResolved}
	record := &model.CanonicalRecord{EntityKey: key, Fields: make(map[string]model.NormalizedValue)}
	for _, f := range frags {
		group.Members = append(group.Members, f.cells...)
	}
	record.Provenance = group.Members

	for _, p := range r.policies.Fields() {
		if p.Identity {
			record.Fields[p.Name] = identityValue(p, frags)
			continue
		}
		var members []member
		for _, f := range frags {
			members = append(members, f.values[p.Name]...)
		}
		if len(members) == 0 {
			record.Fields[p.Name] = model.Empty()
			continue
		}

		out := r.mergeField(p, members)
		record.Fields[p.Name] = out.value
		if out.status == model.StatusResolved {
			continue
		}
		report.Errorf(out.kind, key, out.location, "field %s: %s", p.Name, out.reason)
		group.Reasons = append(group.Reasons, p.Name+": "+out.reason)
		// ambiguous 优先于 invalid
		if group.Status != model.StatusAmbiguous {
			group.Status = out.status
		}
	}
	return group, record
}

// identityValue 身份字段的记录值；按月归并的日期取组内最晚日期
func identityValue(p model.FieldPolicy, frags []*fragment) model.NormalizedValue {
	v := frags[0].identity[p.Name]
	if v.Kind != model.KindDate {
		return v
	}
	for _, f := range frags[1:] {
		if d := f.identity[p.Name]; d.Kind == model.KindDate && d.Date.After(v.Date) {
			v = d
		}
	}
	return v
}

type mergeOutcome struct {
	value    model.NormalizedValue
	status   model.ResolutionStatus
	kind     model.IssueKind
	reason   string
	location string
}

func resolved(v model.NormalizedValue) mergeOutcome {
	return mergeOutcome{value: v, status: model.StatusResolved}
}

// mergeField 按字段策略合并一个字段的全部成员
func (r *Resolver) mergeField(p model.FieldPolicy, members []member) mergeOutcome {
	// 任一成员非法则整个字段非法，不做部分合并
	for _, m := range members {
		if m.value.IsInvalid() {
			reason := m.value.Reason
			if len(members) > 1 {
				reason = model.ReasonMergedInvalid
			}
			return mergeOutcome{
				value:    model.Invalid(reason, m.value.Text),
				status:   model.StatusInvalid,
				kind:     model.FormatError,
				reason:   fmt.Sprintf("invalid %s value %q (%s)", p.Kind, m.value.Text, m.value.Reason),
				location: m.cell.Location(),
			}
		}
	}

	values := make([]model.NormalizedValue, len(members))
	for i, m := range members {
		v, ok := coerce(p.Kind, m.value)
		if !ok {
			return mergeOutcome{
				value:    model.Invalid(model.ReasonDeclaredMismatch, m.value.String()),
				status:   model.StatusAmbiguous,
				kind:     model.AmbiguousSplitError,
				reason:   fmt.Sprintf("%s value %q is not compatible with a %s field", m.value.Kind, m.value.String(), p.Kind),
				location: m.cell.Location(),
			}
		}
		values[i] = v
	}

	switch p.Merge {
	case model.MergeSum:
		total := values[0].Number
		for _, v := range values[1:] {
			total = total.Add(v.Number)
		}
		return resolved(model.Number(total))

	case model.MergeConcat:
		seen := make(map[string]struct{}, len(values))
		var parts []string
		for _, v := range values {
			if _, dup := seen[v.Text]; dup {
				continue
			}
			seen[v.Text] = struct{}{}
			parts = append(parts, v.Text)
		}
		return resolved(model.Text(strings.Join(parts, r.opts.Separator)))

	case model.MergeRange:
		return r.mergeRange(p, members, values)

	default:
		for i, v := range values[1:] {
			if !v.Equal(values[0]) {
				return mergeOutcome{
					value:    model.Invalid(model.ReasonMergedInvalid, values[0].String()+" / "+v.String()),
					status:   model.StatusAmbiguous,
					kind:     model.AmbiguousSplitError,
					reason:   fmt.Sprintf("split members disagree: %q at %s vs %q at %s", values[0].String(), members[0].cell.Location(), v.String(), members[i+1].cell.Location()),
					location: members[0].cell.Location(),
				}
			}
		}
		return resolved(values[0])
	}
}

// mergeRange 所有日期必须落在同一期间（运行期间或第一个成员的月份），合并值取最晚日期
func (r *Resolver) mergeRange(p model.FieldPolicy, members []member, values []model.NormalizedValue) mergeOutcome {
	expected := r.opts.Period
	if expected.IsZero() {
		expected = values[0].Date
	}
	latest := time.Time{}
	for i, v := range values {
		if !normalize.SamePeriod(v.Date, expected) {
			return mergeOutcome{
				value:    model.Invalid(model.ReasonMergedInvalid, v.String()),
				status:   model.StatusAmbiguous,
				kind:     model.RangeError,
				reason:   fmt.Sprintf("date %s outside period %s", v.String(), normalize.PeriodKey(expected)),
				location: members[i].cell.Location(),
			}
		}
		if v.Date.After(latest) {
			latest = v.Date
		}
	}
	return resolved(model.Date(latest))
}

// coerce 检查成员类型与字段类型是否兼容；文本字段接受数字/日期的规范文本
func coerce(kind model.ValueKind, v model.NormalizedValue) (model.NormalizedValue, bool) {
	if v.Kind == kind {
		return v, true
	}
	if kind == model.KindText && (v.Kind == model.KindNumber || v.Kind == model.KindDate) {
		return model.Text(v.String()), true
	}
	return v, false
}
