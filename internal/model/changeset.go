package model

import (
	"fmt"
	"time"
)

// Severity 问题级别
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue 校验报告中的一条问题
type Issue struct {
	Severity  Severity  `json:"severity"`
	Kind      IssueKind `json:"kind"`
	EntityKey string    `json:"entityKey,omitempty"`
	Location  string    `json:"location,omitempty"`
	Message   string    `json:"message"`
}

func (i Issue) String() string {
	s := fmt.Sprintf("[%s] %s", i.Severity, i.Kind)
	if i.EntityKey != "" {
		s += " " + i.EntityKey
	}
	if i.Location != "" {
		s += " @" + i.Location
	}
	return s + ": " + i.Message
}

// ValidationReport 校验报告
type ValidationReport struct {
	Issues []Issue `json:"issues"`
}

// Add 追加问题
func (r *ValidationReport) Add(issues ...Issue) {
	r.Issues = append(r.Issues, issues...)
}

// Errorf 追加错误
func (r *ValidationReport) Errorf(kind IssueKind, key, location, format string, args ...any) {
	r.Add(Issue{Severity: SeverityError, Kind: kind, EntityKey: key, Location: location, Message: fmt.Sprintf(format, args...)})
}

// Warnf 追加警告
func (r *ValidationReport) Warnf(kind IssueKind, key, location, format string, args ...any) {
	r.Add(Issue{Severity: SeverityWarning, Kind: kind, EntityKey: key, Location: location, Message: fmt.Sprintf(format, args...)})
}

// Merge 合并另一个报告
func (r *ValidationReport) Merge(other ValidationReport) {
	r.Add(other.Issues...)
}

// Counts 返回错误数与警告数
func (r ValidationReport) Counts() (errs, warns int) {
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			errs++
		} else {
			warns++
		}
	}
	return errs, warns
}

func (r ValidationReport) HasErrors() bool {
	errs, _ := r.Counts()
	return errs > 0
}

// ForEntity 返回某实体的全部问题
func (r ValidationReport) ForEntity(key string) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.EntityKey == key {
			out = append(out, i)
		}
	}
	return out
}

// MutationOp 变更类型
type MutationOp string

const (
	OpUpdate MutationOp = "update"
	OpInsert MutationOp = "insert"
)

// FieldMutation 字段级变更；由 Planner 生成，不自行应用
type FieldMutation struct {
	EntityKey string          `json:"entityKey"`
	Field     string          `json:"field"`
	Op        MutationOp      `json:"op"`
	Old       NormalizedValue `json:"old"`
	New       NormalizedValue `json:"new"`
}

// ChangeStats 变更集统计
type ChangeStats struct {
	Matched   int `json:"matched"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Orphans   int `json:"orphans"`
	Excluded  int `json:"excluded"`
}

// ChangeSet 一次运行生成的变更集
type ChangeSet struct {
	ID           string           `json:"id"`
	Period       string           `json:"period,omitempty"`
	MasterPath   string           `json:"masterPath,omitempty"`
	MasterSHA256 string           `json:"masterSha256,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	Mutations    []FieldMutation  `json:"mutations"`
	Report       ValidationReport `json:"report"`
	Stats        ChangeStats      `json:"stats"`

	consumed bool
}

// Empty 变更集是否没有任何变更
func (c *ChangeSet) Empty() bool {
	return len(c.Mutations) == 0
}

// Entities 按首次出现顺序返回涉及的实体
func (c *ChangeSet) Entities() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range c.Mutations {
		if _, ok := seen[m.EntityKey]; ok {
			continue
		}
		seen[m.EntityKey] = struct{}{}
		out = append(out, m.EntityKey)
	}
	return out
}

// Consume 标记为已消费；第二次调用返回 ErrAlreadyConsumed
func (c *ChangeSet) Consume() error {
	if c.consumed {
		return ErrAlreadyConsumed
	}
	c.consumed = true
	return nil
}

// Consumed 是否已被应用
func (c *ChangeSet) Consumed() bool {
	return c.consumed
}

// BackupSnapshot 写入前的主台账完整副本
type BackupSnapshot struct {
	Path      string    `json:"path"`
	Source    string    `json:"source"`
	SHA256    string    `json:"sha256"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// AppliedSummary 应用结果统计
type AppliedSummary struct {
	Inserted  int             `json:"inserted"`
	Updated   int             `json:"updated"`
	Warned    int             `json:"warned"`
	Mutations int             `json:"mutations"`
	Backup    *BackupSnapshot `json:"backup,omitempty"`
}

// ResultCode 运行结果码
type ResultCode string

const (
	CodeSuccess             ResultCode = "Success"
	CodeSuccessWithWarnings ResultCode = "SuccessWithWarnings"
	CodeValidationFailed    ResultCode = "ValidationFailed"
	CodeApplyFailed         ResultCode = "ApplyFailed"
)

// ExitCode CLI 退出码
func (c ResultCode) ExitCode() int {
	switch c {
	case CodeValidationFailed:
		return 2
	case CodeApplyFailed:
		return 3
	}
	return 0
}
