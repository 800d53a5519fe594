package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"accrualsync/internal/model"
)

// FieldConfig [[fields]] 中的一项：字段语义与表头关键词
type FieldConfig struct {
	Name     string   `toml:"name"`
	Kind     string   `toml:"kind"`
	Merge    string   `toml:"merge"`
	Identity bool     `toml:"identity"`
	Min      *float64 `toml:"min,omitempty"`
	Max      *float64 `toml:"max,omitempty"`
	Currency string   `toml:"currency,omitempty"`
	Pattern  string   `toml:"pattern,omitempty"`
	// Granularity 日期身份字段的键粒度："month"（默认）或 "day"
	Granularity string   `toml:"granularity,omitempty"`
	Keywords    []string `toml:"keywords"`
}

func bound(v float64) *float64 { return &v }

// DefaultFields 默认字段表（员工档案号 + 期间为实体键）
func DefaultFields() []FieldConfig {
	return []FieldConfig{
		{
			Name: "employee_id", Kind: "text", Merge: "none", Identity: true,
			Pattern:  `(\d{5,6})`,
			Keywords: []string{"file #", "file no", "file id", "file", "app id", "appid", "app no", "applicant", "employee id", "emp id"},
		},
		{
			Name: "period", Kind: "date", Merge: "none", Identity: true, Granularity: "month",
			Keywords: []string{"period", "pay period", "month"},
		},
		{
			Name: "name", Kind: "text", Merge: "concat",
			Keywords: []string{"payroll name", "employee name", "name"},
		},
		{
			Name: "hours", Kind: "number", Merge: "sum", Min: bound(0), Max: bound(500),
			Keywords: []string{"hours", "hrs"},
		},
		{
			Name: "amount", Kind: "number", Merge: "sum", Currency: "USD",
			Keywords: []string{"billed to the client", "billed", "amount", "payment", "gross"},
		},
		{
			Name: "pay_date", Kind: "date", Merge: "range",
			Keywords: []string{"pay date", "check date", "paid on"},
		},
		{
			Name: "department", Kind: "text", Merge: "concat",
			Keywords: []string{"department", "dept", "cost center"},
		},
		{
			Name: "last_updated", Kind: "text", Merge: "none",
			Keywords: []string{"last updated", "updated period"},
		},
	}
}

// Policy 转换为字段策略
func (f FieldConfig) Policy() (model.FieldPolicy, error) {
	kind := model.KindText
	if f.Kind != "" {
		k, err := model.ParseValueKind(f.Kind)
		if err != nil {
			return model.FieldPolicy{}, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if k == model.KindEmpty || k == model.KindInvalid {
			return model.FieldPolicy{}, fmt.Errorf("field %q: kind must be number, date or text", f.Name)
		}
		kind = k
	}

	p := model.FieldPolicy{
		Name:     strings.TrimSpace(f.Name),
		Kind:     kind,
		Merge:    model.MergePolicy(strings.ToLower(strings.TrimSpace(f.Merge))),
		Identity: f.Identity,
		Currency: strings.ToUpper(f.Currency),
		Keywords: f.Keywords,

		Granularity: model.KeyGranularity(strings.ToLower(strings.TrimSpace(f.Granularity))),
	}
	if f.Min != nil {
		d := decimal.NewFromFloat(*f.Min)
		p.Min = &d
	}
	if f.Max != nil {
		d := decimal.NewFromFloat(*f.Max)
		p.Max = &d
	}
	if p.Min != nil && p.Max != nil && p.Min.GreaterThan(*p.Max) {
		return model.FieldPolicy{}, fmt.Errorf("field %q: min %s greater than max %s", f.Name, p.Min, p.Max)
	}
	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return model.FieldPolicy{}, fmt.Errorf("field %q: bad pattern: %w", f.Name, err)
		}
		p.Pattern = re
	}
	return p, nil
}

// Policies 构建字段策略表
func (c *AppConfig) Policies() (*model.PolicyTable, error) {
	policies := make([]model.FieldPolicy, 0, len(c.Fields))
	for _, f := range c.Fields {
		p, err := f.Policy()
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return model.NewPolicyTable(policies)
}
