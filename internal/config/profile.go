package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"accrualsync/internal/model"
)

// Profile 一次运行使用的完整参数，作为显式值传给流水线
type Profile struct {
	Name     string
	Policies *model.PolicyTable

	Tolerance          decimal.Decimal
	MergeAcrossSources bool
	ApplyOnErrors      bool
	ContinuationLabels []string
	ConcatSeparator    string
	PeriodField        string

	MasterSheet     string
	MasterHeaderRow int

	HeaderScanRows int
	SheetContains  []string
	Extensions     []string
	Workers        int

	Backup    bool
	BackupDir string
}

// Profile 由配置构建运行参数
func (c *AppConfig) Profile() (Profile, error) {
	policies, err := c.Policies()
	if err != nil {
		return Profile{}, err
	}
	if c.Reconcile.NumericTolerance < 0 {
		return Profile{}, fmt.Errorf("numeric_tolerance must not be negative")
	}
	if c.Reconcile.PeriodField != "" {
		if _, ok := policies.Lookup(c.Reconcile.PeriodField); !ok {
			return Profile{}, fmt.Errorf("period_field %q is not a declared field", c.Reconcile.PeriodField)
		}
	}
	if c.Master.HeaderRow < 1 {
		return Profile{}, fmt.Errorf("master.header_row must be >= 1")
	}

	labels := make([]string, 0, len(c.Reconcile.ContinuationLabels))
	for _, l := range c.Reconcile.ContinuationLabels {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			labels = append(labels, l)
		}
	}
	workers := c.Paysheet.Workers
	if workers < 1 {
		workers = 1
	}

	return Profile{
		Name:               c.Run.Profile,
		Policies:           policies,
		Tolerance:          decimal.NewFromFloat(c.Reconcile.NumericTolerance),
		MergeAcrossSources: c.Reconcile.MergeAcrossSources,
		ApplyOnErrors:      c.Reconcile.ApplyOnErrors,
		ContinuationLabels: labels,
		ConcatSeparator:    c.Reconcile.ConcatSeparator,
		PeriodField:        c.Reconcile.PeriodField,
		MasterSheet:        c.Master.Sheet,
		MasterHeaderRow:    c.Master.HeaderRow,
		HeaderScanRows:     c.Paysheet.HeaderScanRows,
		SheetContains:      c.Paysheet.SheetContains,
		Extensions:         c.Paysheet.Extensions,
		Workers:            workers,
		Backup:             c.Data.AutoBackup,
		BackupDir:          BackupDir(c),
	}, nil
}
