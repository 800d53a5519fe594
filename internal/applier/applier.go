// Package applier 以“先备份、再写入”的方式把已接受的变更集写入主台账。
//
// 写入失败时从备份恢复主台账，保证主台账要么包含全部变更，要么与运行前逐字节一致。
package applier

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"accrualsync/internal/model"
)

// Target 可被写入变更集的主台账
type Target interface {
	// Path 主台账文件路径（用于加锁、备份、恢复）
	Path() string
	// Write 作为一个事务写入全部变更；返回错误时调用方负责恢复
	Write(ctx context.Context, cs *model.ChangeSet) error
}

// Options 应用参数
type Options struct {
	// Backup 写入前备份主台账（默认应开启）
	Backup bool
	// BackupDir 备份目录；为空时与主台账同目录
	BackupDir string
	// ExpectSHA256 生成变更集时主台账的哈希；为空时使用 ChangeSet.MasterSHA256
	ExpectSHA256 string
	Logger       *zap.Logger
	Now          func() time.Time
}

// BackupName 备份文件名：<name>_BACKUP_<YYYYMMDD_HHMMSS><ext>
func BackupName(master string, at time.Time) string {
	base := filepath.Base(master)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_BACKUP_" + at.Format("20060102_150405") + ext
}

// Apply 应用变更集
//
// 顺序：检查取消 -> 加锁 -> 校验哈希 -> 消费变更集 -> 备份 -> 写入（此后不再响应取消）-> 失败时恢复。
func Apply(ctx context.Context, cs *model.ChangeSet, target Target, opts Options) (*model.AppliedSummary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	master := target.Path()
	if !fileExists(master) {
		return nil, &model.ApplyError{Op: "open", Path: master, Restored: true, Err: fmt.Errorf("master file not found")}
	}

	lock, err := acquireLock(master)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release lock", zap.String("path", lock.Path()), zap.Error(err))
		}
	}()

	beforeSHA, size, err := HashFile(master)
	if err != nil {
		return nil, &model.ApplyError{Op: "hash", Path: master, Restored: true, Err: err}
	}
	expect := opts.ExpectSHA256
	if expect == "" {
		expect = cs.MasterSHA256
	}
	if expect != "" && !strings.EqualFold(expect, beforeSHA) {
		return nil, fmt.Errorf("%w: %s", model.ErrStaleChangeSet, master)
	}

	// 取消只在写入开始前生效；被拒绝或取消的变更集仍可再次应用
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cs.Consume(); err != nil {
		return nil, err
	}

	summary := summarize(cs)
	if cs.Empty() {
		logger.Info("change set is empty; master untouched", zap.String("master", master))
		return summary, nil
	}

	if opts.Backup {
		backup, err := writeBackup(master, opts.BackupDir, beforeSHA, size, now())
		if err != nil {
			return nil, &model.ApplyError{Op: "backup", Path: master, Restored: true, Err: err}
		}
		summary.Backup = backup
		logger.Info("backup written", zap.String("backup", backup.Path), zap.String("sha256", backup.SHA256))
	} else {
		logger.Warn("backup disabled; master cannot be restored if the write fails", zap.String("master", master))
	}

	writeErr := target.Write(context.WithoutCancel(ctx), cs)
	if writeErr == nil {
		logger.Info("change set applied",
			zap.String("master", master),
			zap.Int("mutations", summary.Mutations),
			zap.Int("inserted", summary.Inserted),
			zap.Int("updated", summary.Updated))
		return summary, nil
	}

	logger.Error("write failed; restoring master", zap.String("master", master), zap.Error(writeErr))
	restored, restoreErr := restore(master, summary.Backup, beforeSHA)
	if restoreErr != nil {
		logger.Error("restore failed", zap.String("master", master), zap.Error(restoreErr))
		writeErr = errors.Join(writeErr, fmt.Errorf("restore: %w", restoreErr))
	}
	return nil, &model.ApplyError{Op: "write", Path: master, Restored: restored, Err: writeErr}
}

func writeBackup(master, dir, sha string, size int64, at time.Time) (*model.BackupSnapshot, error) {
	if dir == "" {
		dir = filepath.Dir(master)
	}
	path := filepath.Join(dir, BackupName(master, at))
	for i := 1; fileExists(path); i++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", strings.TrimSuffix(BackupName(master, at), filepath.Ext(master)), i, filepath.Ext(master)))
	}
	if err := copyFileAtomic(master, path); err != nil {
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}
	got, _, err := HashFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to verify backup: %w", err)
	}
	if got != sha {
		return nil, fmt.Errorf("backup hash mismatch: %s != %s", got, sha)
	}
	return &model.BackupSnapshot{Path: path, Source: master, SHA256: sha, Size: size, CreatedAt: at.UTC()}, nil
}

// restore 从备份恢复主台账并校验哈希；主台账未被改动时直接视为已恢复
func restore(master string, backup *model.BackupSnapshot, want string) (bool, error) {
	if got, _, err := HashFile(master); err == nil && got == want {
		return true, nil
	}
	if backup == nil {
		return false, fmt.Errorf("no backup available")
	}
	if err := copyFileAtomic(backup.Path, master); err != nil {
		return false, err
	}
	got, _, err := HashFile(master)
	if err != nil {
		return false, err
	}
	if got != want {
		return false, fmt.Errorf("restored master hash mismatch: %s != %s", got, want)
	}
	return true, nil
}

// summarize 统计变更集涉及的实体数
func summarize(cs *model.ChangeSet) *model.AppliedSummary {
	inserted := make(map[string]struct{})
	updated := make(map[string]struct{})
	for _, m := range cs.Mutations {
		if m.Op == model.OpInsert {
			inserted[m.EntityKey] = struct{}{}
		} else {
			updated[m.EntityKey] = struct{}{}
		}
	}
	_, warns := cs.Report.Counts()
	return &model.AppliedSummary{
		Inserted:  len(inserted),
		Updated:   len(updated),
		Warned:    warns,
		Mutations: len(cs.Mutations),
	}
}
