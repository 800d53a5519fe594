package model

import (
	"errors"
	"fmt"
)

// IssueKind 校验问题分类
type IssueKind string

const (
	FormatError         IssueKind = "FormatError"
	RangeError          IssueKind = "RangeError"
	DuplicationError    IssueKind = "DuplicationError"
	AmbiguousSplitError IssueKind = "AmbiguousSplitError"
	MatchError          IssueKind = "MatchError"
	ApplyErrorKind      IssueKind = "ApplyError"
)

var (
	ErrFormat         = errors.New("format error")
	ErrRange          = errors.New("range error")
	ErrDuplication    = errors.New("duplication error")
	ErrAmbiguousSplit = errors.New("ambiguous split")
	ErrMatch          = errors.New("match error")
	ErrApply          = errors.New("apply error")

	// ErrAlreadyConsumed 变更集只能被应用一次
	ErrAlreadyConsumed = errors.New("change set already consumed")
	// ErrStaleChangeSet 主台账在生成变更集之后被修改过
	ErrStaleChangeSet = errors.New("master file changed since the change set was planned")
	// ErrLocked 主台账正被其他运行独占
	ErrLocked = errors.New("master file is locked by another run")
)

// Sentinel 返回问题分类对应的哨兵错误
func (k IssueKind) Sentinel() error {
	switch k {
	case FormatError:
		return ErrFormat
	case RangeError:
		return ErrRange
	case DuplicationError:
		return ErrDuplication
	case AmbiguousSplitError:
		return ErrAmbiguousSplit
	case MatchError:
		return ErrMatch
	case ApplyErrorKind:
		return ErrApply
	}
	return nil
}

// ApplyError 写入主台账失败
type ApplyError struct {
	Op       string
	Path     string
	Restored bool
	Err      error
}

func (e *ApplyError) Error() string {
	state := "master unchanged"
	if !e.Restored {
		state = "master not restored"
	}
	return fmt.Sprintf("apply %s %s (%s): %v", e.Op, e.Path, state, e.Err)
}

func (e *ApplyError) Unwrap() []error {
	return []error{ErrApply, e.Err}
}
