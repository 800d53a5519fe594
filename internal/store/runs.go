package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"accrualsync/internal/model"
)

// ErrRunNotFound 运行记录不存在
var ErrRunNotFound = errors.New("run not found")

// RunStatus 运行状态
type RunStatus string

const (
	RunPlanned     RunStatus = "planned"      // 已生成变更集，尚未应用
	RunRejected    RunStatus = "rejected"     // 校验失败，不会被应用
	RunApplied     RunStatus = "applied"      // 已写入主台账
	RunApplyFailed RunStatus = "apply_failed" // 写入失败并已恢复
)

// Run 一次对账运行
type Run struct {
	ID           string           `json:"id"`
	Profile      string           `json:"profile"`
	Period       string           `json:"period"`
	MasterPath   string           `json:"masterPath"`
	MasterSHA256 string           `json:"masterSha256"`
	Paysheets    []string         `json:"paysheets"`
	DryRun       bool             `json:"dryRun"`
	Status       RunStatus        `json:"status"`
	ResultCode   model.ResultCode `json:"resultCode,omitempty"`
	Errors       int              `json:"errors"`
	Warnings     int              `json:"warnings"`
	Mutations    int              `json:"mutations"`
	Inserted     int              `json:"inserted"`
	Updated      int              `json:"updated"`
	BackupPath   string           `json:"backupPath,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	AppliedAt    *time.Time       `json:"appliedAt,omitempty"`
}

// CreateRun 保存一次运行及其变更集；run.ID 为空时生成新 ID 并回写到 run 与 cs
func (s *Store) CreateRun(run *Run, cs *model.ChangeSet) error {
	if run.ID == "" {
		run.ID = cs.ID
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	cs.ID = run.ID
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunPlanned
	}
	run.MasterSHA256 = cs.MasterSHA256
	run.Errors, run.Warnings = cs.Report.Counts()
	run.Mutations = len(cs.Mutations)
	run.Inserted = cs.Stats.Inserted
	run.Updated = cs.Stats.Updated

	csJSON, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("failed to encode change set: %w", err)
	}
	paysheets, err := json.Marshal(run.Paysheets)
	if err != nil {
		return fmt.Errorf("failed to encode paysheets: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, profile, period, master_path, master_sha256, paysheets, dry_run, status, result_code,
			errors, warnings, mutations, inserted, updated, change_set, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Profile, run.Period, run.MasterPath, run.MasterSHA256, string(paysheets), run.DryRun,
		string(run.Status), string(run.ResultCode), run.Errors, run.Warnings, run.Mutations, run.Inserted, run.Updated,
		string(csJSON), run.ErrorMessage, run.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// MarkApplied 记录应用成功
func (s *Store) MarkApplied(id string, summary *model.AppliedSummary, code model.ResultCode) error {
	backup := ""
	if summary.Backup != nil {
		backup = summary.Backup.Path
	}
	return s.finishRun(id, RunApplied, code, backup, "", summary.Inserted, summary.Updated)
}

// MarkApplyFailed 记录应用失败
func (s *Store) MarkApplyFailed(id string, cause error, code model.ResultCode) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.finishRun(id, RunApplyFailed, code, "", msg, -1, -1)
}

func (s *Store) finishRun(id string, status RunStatus, code model.ResultCode, backup, msg string, inserted, updated int) error {
	return s.withTx(func(tx *sql.Tx) error {
		var current string
		if err := tx.QueryRow("SELECT status FROM runs WHERE id = ?", id).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrRunNotFound, id)
			}
			return err
		}
		if RunStatus(current) != RunPlanned {
			return fmt.Errorf("%w: run %s is %s", model.ErrAlreadyConsumed, id, current)
		}
		_, err := tx.Exec(`
			UPDATE runs SET
				status = ?,
				result_code = ?,
				backup_path = ?,
				error_message = ?,
				inserted = CASE WHEN ? >= 0 THEN ? ELSE inserted END,
				updated = CASE WHEN ? >= 0 THEN ? ELSE updated END,
				applied_at = ?
			WHERE id = ?
		`, string(status), string(code), backup, msg, inserted, inserted, updated, updated,
			time.Now().UTC().Format(time.RFC3339Nano), id)
		if err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		return nil
	})
}

const runColumns = `id, profile, period, master_path, master_sha256, paysheets, dry_run, status, result_code,
	errors, warnings, mutations, inserted, updated, backup_path, error_message, created_at, applied_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r                    Run
		paysheets            string
		status, code         string
		createdAt, appliedAt string
	)
	if err := row.Scan(&r.ID, &r.Profile, &r.Period, &r.MasterPath, &r.MasterSHA256, &paysheets, &r.DryRun,
		&status, &code, &r.Errors, &r.Warnings, &r.Mutations, &r.Inserted, &r.Updated,
		&r.BackupPath, &r.ErrorMessage, &createdAt, &appliedAt); err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	r.ResultCode = model.ResultCode(code)
	if err := json.Unmarshal([]byte(paysheets), &r.Paysheets); err != nil {
		return nil, fmt.Errorf("failed to decode paysheets: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	r.CreatedAt = t
	if appliedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, appliedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse applied_at: %w", err)
		}
		r.AppliedAt = &t
	}
	return &r, nil
}

// GetRun 按 ID 获取运行记录
func (s *Store) GetRun(id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns 按创建时间倒序列出运行记录；limit<=0 时返回全部
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY created_at DESC, id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// LoadChangeSet 读取运行保存的变更集；已应用或已失败的运行返回已消费的变更集
func (s *Store) LoadChangeSet(id string) (*model.ChangeSet, error) {
	var raw, status string
	err := s.db.QueryRow("SELECT change_set, status FROM runs WHERE id = ?", id).Scan(&raw, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to load change set: %w", err)
	}
	var cs model.ChangeSet
	if err := json.Unmarshal([]byte(raw), &cs); err != nil {
		return nil, fmt.Errorf("failed to decode change set: %w", err)
	}
	if RunStatus(status) != RunPlanned {
		_ = cs.Consume()
	}
	return &cs, nil
}
