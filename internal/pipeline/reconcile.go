// Package pipeline 串联 解析 -> 匹配 -> 计划 -> 应用 的对账流程。
package pipeline

import (
	"fmt"
	"time"

	"accrualsync/internal/config"
	"accrualsync/internal/matcher"
	"accrualsync/internal/model"
	"accrualsync/internal/normalize"
	"accrualsync/internal/planner"
	"accrualsync/internal/resolver"
)

// Input Reconcile 的输入
type Input struct {
	Sources []model.Source
	Master  *model.MasterSnapshot
	// Period 运行期间 "2006-01"；为空时不做期间限定
	Period string
}

// Outcome Reconcile 的输出
type Outcome struct {
	ChangeSet  *model.ChangeSet
	Records    []*model.CanonicalRecord
	Unresolved []*model.SplitCellGroup
}

// Reconcile 纯函数：不读写文件，相同输入得到相同的变更集（ID 与时间戳除外，由调用方填写）
func Reconcile(in Input, p config.Profile) (*Outcome, error) {
	if p.Policies == nil {
		return nil, fmt.Errorf("profile has no field policies")
	}
	if in.Master == nil {
		return nil, fmt.Errorf("master snapshot is required")
	}

	var period time.Time
	if in.Period != "" {
		t, ok := normalize.ParsePeriod(in.Period)
		if !ok {
			return nil, fmt.Errorf("invalid period %q, want YYYY-MM", in.Period)
		}
		period = t
	}

	ropts := resolver.DefaultOptions()
	ropts.Period = period
	ropts.MergeAcrossSources = p.MergeAcrossSources
	if len(p.ContinuationLabels) > 0 {
		ropts.ContinuationLabels = p.ContinuationLabels
	}
	if p.ConcatSeparator != "" {
		ropts.Separator = p.ConcatSeparator
	}
	resolved := resolver.New(p.Policies, ropts).ResolveSources(in.Sources)

	matched := matcher.NewIndex(in.Master).Match(resolved.Records, resolved.Excluded)
	results := scopeOrphans(matched.Results, p.Policies, period)

	periodKey := ""
	if !period.IsZero() {
		periodKey = normalize.PeriodKey(period)
	}
	cs := planner.Plan(results, planner.Options{
		Policies:    p.Policies,
		Tolerance:   p.Tolerance,
		PeriodField: p.PeriodField,
		Period:      periodKey,
	})

	var report model.ValidationReport
	report.Merge(resolved.Report)
	report.Merge(matched.Report)
	report.Merge(cs.Report)
	cs.Report = report
	cs.Stats.Excluded += len(resolved.Excluded) + len(matched.Excluded)
	cs.MasterPath = in.Master.Path
	cs.MasterSHA256 = in.Master.SHA256

	return &Outcome{ChangeSet: cs, Records: resolved.Records, Unresolved: resolved.Unresolved}, nil
}

// scopeOrphans 只保留属于运行期间的孤儿行；其他期间的主台账行不在本批薪资表的范围内
func scopeOrphans(results []model.MatchResult, policies *model.PolicyTable, period time.Time) []model.MatchResult {
	if period.IsZero() {
		return results
	}
	var dateFields []string
	for _, f := range policies.Identity() {
		if f.Kind == model.KindDate {
			dateFields = append(dateFields, f.Name)
		}
	}
	if len(dateFields) == 0 {
		return results
	}

	out := results[:0:0]
	for _, r := range results {
		if r.Kind == model.MatchOrphanMaster && !inPeriod(r.Master, dateFields, period) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func inPeriod(m *model.MasterRecord, dateFields []string, period time.Time) bool {
	for _, name := range dateFields {
		v := m.Fields[name]
		if v.Kind == model.KindDate && !normalize.SamePeriod(v.Date, period) {
			return false
		}
	}
	return true
}

// PeriodEnd 期间最后一天，用作缺少期间列的薪资表的期间值
func PeriodEnd(period time.Time) time.Time {
	y, m, _ := period.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}

// ResultFor 根据变更集与应用结果确定结果码
func ResultFor(cs *model.ChangeSet, applied bool, applyErr error) model.ResultCode {
	if applyErr != nil {
		return model.CodeApplyFailed
	}
	errs, warns := cs.Report.Counts()
	if errs > 0 && !applied {
		return model.CodeValidationFailed
	}
	if errs > 0 || warns > 0 {
		return model.CodeSuccessWithWarnings
	}
	return model.CodeSuccess
}
