// Package resolver 把薪资表单元格按实体键分组，并按字段策略合并拆分单元格。
//
// 一个实体可能被拆成多行（纵向合并单元格、Retro/ACH 调整行）或多列（同一字段的多个列），
// 解析器把它们合并为一条 CanonicalRecord；无法安全合并的分组标记为 ambiguous 并排除。
package resolver

import (
	"sort"
	"strings"
	"time"

	"accrualsync/internal/model"
	"accrualsync/internal/normalize"
)

// Options 解析参数
type Options struct {
	// Period 运行期间（当月任意一天）；为零值时 range 策略以第一个成员所在月份为准
	Period time.Time
	// ContinuationLabels 身份列中出现这些词时，该行属于上一行的实体（例如 Retro / ACH 调整行）
	ContinuationLabels []string
	// IgnoreLabels 以这些词开头的行（合计行）直接忽略
	IgnoreLabels []string
	// Separator concat 策略的分隔符
	Separator string
	// MergeAcrossSources 为 false 时每个来源单独解析，跨来源出现同一实体视为重复
	MergeAcrossSources bool
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		ContinuationLabels: []string{"retro", "ach"},
		IgnoreLabels:       []string{"total", "subtotal", "grand total"},
		Separator:          "; ",
		MergeAcrossSources: true,
	}
}

// Result 解析结果
type Result struct {
	Records    []*model.CanonicalRecord
	Unresolved []*model.SplitCellGroup
	// Excluded 被排除的实体键（ambiguous/invalid/duplicate），匹配时跳过
	Excluded []string
	Report   model.ValidationReport
}

func (r *Result) exclude(group *model.SplitCellGroup) {
	r.Unresolved = append(r.Unresolved, group)
	r.Excluded = append(r.Excluded, group.EntityKey)
}

// Resolver 拆分单元格解析器
type Resolver struct {
	policies *model.PolicyTable
	opts     Options
}

// New 创建解析器
func New(policies *model.PolicyTable, opts Options) *Resolver {
	if opts.Separator == "" {
		opts.Separator = "; "
	}
	return &Resolver{policies: policies, opts: opts}
}

// ResolveSources 解析全部来源
func (r *Resolver) ResolveSources(sources []model.Source) Result {
	if r.opts.MergeAcrossSources {
		var cells []model.RawCell
		layouts := make(map[string]model.Layout)
		for _, src := range sources {
			cells = append(cells, src.Cells...)
			for _, l := range src.Layouts {
				layouts[l.SheetID] = l
			}
		}
		return r.Resolve(cells, layouts)
	}

	var all Result
	var records []*model.CanonicalRecord
	for _, src := range sources {
		layouts := make(map[string]model.Layout, len(src.Layouts))
		for _, l := range src.Layouts {
			layouts[l.SheetID] = l
		}
		res := r.Resolve(src.Cells, layouts)
		records = append(records, res.Records...)
		all.Unresolved = append(all.Unresolved, res.Unresolved...)
		all.Excluded = append(all.Excluded, res.Excluded...)
		all.Report.Merge(res.Report)
	}

	kept, dups, report := CheckDuplicates(records)
	all.Records = kept
	for _, g := range dups {
		all.exclude(g)
	}
	all.Report.Merge(report)
	return all
}

// Resolve 解析一组单元格；layouts 以 SheetID 为键
func (r *Resolver) Resolve(cells []model.RawCell, layouts map[string]model.Layout) Result {
	var res Result

	frags := r.fragments(cells, layouts)
	frags = r.assignIdentity(frags, &res.Report)

	// 按实体键分组，保持首次出现顺序
	groups := make(map[string][]*fragment)
	var order []string
	for _, f := range frags {
		if _, ok := groups[f.key]; !ok {
			order = append(order, f.key)
		}
		groups[f.key] = append(groups[f.key], f)
	}

	for _, key := range order {
		group, record := r.merge(key, groups[key], &res.Report)
		if group.Status != model.StatusResolved {
			res.exclude(group)
			continue
		}
		res.Records = append(res.Records, record)
	}
	return res
}

// CheckDuplicates 检查实体键唯一性；重复的实体全部排除
func CheckDuplicates(records []*model.CanonicalRecord) ([]*model.CanonicalRecord, []*model.SplitCellGroup, model.ValidationReport) {
	var report model.ValidationReport
	count := make(map[string]int, len(records))
	for _, rec := range records {
		count[rec.EntityKey]++
	}

	var kept []*model.CanonicalRecord
	dupGroups := make(map[string]*model.SplitCellGroup)
	var dups []*model.SplitCellGroup
	for _, rec := range records {
		if count[rec.EntityKey] == 1 {
			kept = append(kept, rec)
			continue
		}
		g, ok := dupGroups[rec.EntityKey]
		if !ok {
			g = &model.SplitCellGroup{EntityKey: rec.EntityKey, Status: model.StatusDuplicate}
			dupGroups[rec.EntityKey] = g
			dups = append(dups, g)
			report.Errorf(model.DuplicationError, rec.EntityKey, firstLocation(rec.Provenance),
				"entity appears in %d separate records", count[rec.EntityKey])
		}
		g.Members = append(g.Members, rec.Provenance...)
		g.Reasons = append(g.Reasons, "duplicate record at "+firstLocation(rec.Provenance))
	}
	return kept, dups, report
}

// member 一个字段的一个成员值
type member struct {
	cell  model.RawCell
	value model.NormalizedValue
}

// fragment 一行中属于已映射字段的非空单元格
type fragment struct {
	sheet    string
	row      int
	cells    []model.RawCell
	values   map[string][]member
	identity map[string]model.NormalizedValue
	key      string
}

func (f *fragment) location() string {
	if len(f.cells) == 0 {
		return f.sheet
	}
	return f.cells[0].Location()
}

// fragments 把单元格按 (sheet,row) 切成行片段，顺序为 sheet 首次出现顺序、行号、列号
func (r *Resolver) fragments(cells []model.RawCell, layouts map[string]model.Layout) []*fragment {
	sheetOrder := make(map[string]int)
	sorted := make([]model.RawCell, 0, len(cells))
	for _, c := range cells {
		if _, ok := sheetOrder[c.SheetID]; !ok {
			sheetOrder[c.SheetID] = len(sheetOrder)
		}
		sorted = append(sorted, c)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if sheetOrder[a.SheetID] != sheetOrder[b.SheetID] {
			return sheetOrder[a.SheetID] < sheetOrder[b.SheetID]
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Column < b.Column
	})

	var frags []*fragment
	var cur *fragment
	for _, c := range sorted {
		layout, ok := layouts[c.SheetID]
		if !ok || c.Row <= layout.HeaderRow {
			continue
		}
		field, ok := layout.Columns[c.Column]
		if !ok {
			continue
		}
		policy, ok := r.policies.Lookup(field)
		if !ok {
			continue
		}
		if c.DeclaredType == model.CellTypeNone {
			c.DeclaredType = policy.DeclaredType()
		}
		v := normalize.Normalize(c)
		if v.IsEmpty() {
			continue
		}
		if cur == nil || cur.sheet != c.SheetID || cur.row != c.Row {
			cur = &fragment{sheet: c.SheetID, row: c.Row, values: make(map[string][]member)}
			frags = append(frags, cur)
		}
		cur.cells = append(cur.cells, c)
		cur.values[field] = append(cur.values[field], member{cell: c, value: v})
	}

	// 没有对应列的字段使用 layout 的固定值
	for _, f := range frags {
		layout := layouts[f.sheet]
		for field, raw := range layout.Defaults {
			if len(f.values[field]) > 0 {
				continue
			}
			policy, ok := r.policies.Lookup(field)
			if !ok {
				continue
			}
			c := model.RawCell{SheetID: f.sheet, Row: f.row, RawValue: raw, DeclaredType: policy.DeclaredType()}
			if v := normalize.Normalize(c); !v.IsEmpty() {
				f.values[field] = append(f.values[field], member{cell: c, value: v})
			}
		}
	}
	return frags
}

// assignIdentity 为每个片段确定实体键；空白身份或续行标签继承紧邻上一行的身份
func (r *Resolver) assignIdentity(frags []*fragment, report *model.ValidationReport) []*fragment {
	identity := r.policies.Identity()
	out := make([]*fragment, 0, len(frags))
	var prev *fragment

	for _, f := range frags {
		if r.isSummaryRow(f) {
			prev = nil
			continue
		}

		ids := make(map[string]model.NormalizedValue, len(identity))
		continuation := false
		blank := false
		invalid := ""
		for _, p := range identity {
			ms := f.values[p.Name]
			if len(ms) == 0 {
				blank = true
				continue
			}
			v := ms[0].value
			switch {
			case v.IsInvalid():
				invalid = p.Name
			case v.Kind == model.KindText && hasLabel(v.Text, r.opts.ContinuationLabels):
				continuation = true
			default:
				ids[p.Name] = v
			}
		}

		if invalid != "" {
			report.Errorf(model.FormatError, "", f.location(), "identity field %s is not a valid %s; row dropped",
				invalid, r.kindOf(invalid))
			prev = nil
			continue
		}

		if continuation || blank {
			if prev == nil || prev.sheet != f.sheet || prev.row != f.row-1 {
				r.dropped(report, f, "row %d has no identity and does not continue the row above; dropped", f.row)
				prev = nil
				continue
			}
			for _, p := range identity {
				if _, ok := ids[p.Name]; continuation || !ok {
					ids[p.Name] = prev.identity[p.Name]
				}
			}
		}

		key, ok := r.policies.EntityKey(ids)
		if !ok {
			r.dropped(report, f, "row %d identity %s not recognized; dropped",
				f.row, describeIdentity(identity, ids))
			prev = nil
			continue
		}
		f.identity = ids
		f.key = key
		out = append(out, f)
		prev = f
	}
	return out
}

// dropped 报告被丢弃的片段；带有求和字段金额的片段会丢失数值，记为错误
func (r *Resolver) dropped(report *model.ValidationReport, f *fragment, format string, args ...any) {
	for _, p := range r.policies.Fields() {
		if p.Merge == model.MergeSum && len(f.values[p.Name]) > 0 {
			report.Errorf(model.FormatError, "", f.location(), format+" (carries %s)", append(args, p.Name)...)
			return
		}
	}
	report.Warnf(model.FormatError, "", f.location(), format, args...)
}

func (r *Resolver) kindOf(field string) string {
	p, _ := r.policies.Lookup(field)
	return p.Kind.String()
}

// isSummaryRow 合计行：任一文本值以 IgnoreLabels 中的词开头
func (r *Resolver) isSummaryRow(f *fragment) bool {
	for _, ms := range f.values {
		for _, m := range ms {
			if m.value.Kind == model.KindText && hasPrefixLabel(m.value.Text, r.opts.IgnoreLabels) {
				return true
			}
		}
	}
	return false
}

func describeIdentity(identity []model.FieldPolicy, ids map[string]model.NormalizedValue) string {
	parts := make([]string, 0, len(identity))
	for _, p := range identity {
		parts = append(parts, p.Name+"="+ids[p.Name].String())
	}
	return strings.Join(parts, ", ")
}

func firstLocation(cells []model.RawCell) string {
	if len(cells) == 0 {
		return ""
	}
	return cells[0].Location()
}

// words 小写分词（按非字母数字切分）
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// hasLabel 文本中是否出现某个标签（按词匹配，支持多词标签）
func hasLabel(text string, labels []string) bool {
	joined := " " + strings.Join(words(text), " ") + " "
	for _, l := range labels {
		l = strings.Join(words(l), " ")
		if l != "" && strings.Contains(joined, " "+l+" ") {
			return true
		}
	}
	return false
}

// hasPrefixLabel 文本是否以某个标签开头
func hasPrefixLabel(text string, labels []string) bool {
	joined := strings.Join(words(text), " ") + " "
	for _, l := range labels {
		l = strings.Join(words(l), " ")
		if l != "" && strings.HasPrefix(joined, l+" ") {
			return true
		}
	}
	return false
}
