/*
 * @module service/errdef/errors
 * @description 质量流水线错误分类，区分校验错误、瞬时服务错误、版本冲突、重试耗尽和配置错误
 * @architecture 工具层 - 错误定义
 * @stateFlow 组件返回类型化错误 -> 编排器判断是否重试 -> 终态记录错误类型
 * @rules 只有编排器允许重试；评估器和改进引擎不得返回降级分数
 * @dependencies errors, context
 * @refs service/orchestrator/retry.go
 */

package errdef

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind 错误类型
type Kind string

const (
	KindValidation    Kind = "validation"
	KindTransient     Kind = "transient"
	KindConflict      Kind = "conflict"
	KindExhausted     Kind = "exhausted"
	KindConfiguration Kind = "configuration"
	KindUnknown       Kind = "unknown"
)

// Error 类型化错误
type Error struct {
	Kind       Kind
	Op         string
	Msg        string
	Err        error
	RetryAfter time.Duration // 服务端给出的重试等待时间，仅瞬时错误使用
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation 创建校验错误（不可重试）
func Validation(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Configuration 创建配置错误（提交时立即失败）
func Configuration(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Conflict 创建版本冲突错误
func Conflict(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Transient 包装瞬时服务错误
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Transientf 创建瞬时服务错误
func Transientf(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindTransient, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// ExhaustedRetriesError 重试次数耗尽
type ExhaustedRetriesError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("重试%d次后仍然失败: %v", e.Attempts, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() error {
	return e.Last
}

// KindOf 返回错误类型
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var exhausted *ExhaustedRetriesError
	if errors.As(err, &exhausted) {
		return KindExhausted
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	return KindUnknown
}

// IsRetryable 判断错误是否可以重试
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindConflict:
		return true
	default:
		return false
	}
}

// RetryAfterOf 返回错误携带的重试等待时间
func RetryAfterOf(err error) time.Duration {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.RetryAfter
	}
	return 0
}
