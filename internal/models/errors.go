package models

import (
	"errors"
	"fmt"
)

// 生命周期错误分类；各层用 fmt.Errorf("...: %w", Err*) 包装，调用方以 errors.Is 判断。
var (
	// ErrValidation 输入缺失或格式错误，调用方可自行修正。
	ErrValidation = errors.New("validation failed")
	// ErrNotFound 记录不存在。
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyFinalized 投保申请已处于终态。
	ErrAlreadyFinalized = errors.New("request already finalized")
	// ErrInvalidState 理赔当前状态不允许该迁移。
	ErrInvalidState = errors.New("invalid state transition")
	// ErrUpstream 身份服务或存储失败，本地无法恢复。
	ErrUpstream = errors.New("upstream failure")
)

// Invalid 返回包装 ErrValidation 的错误，消息直接面向调用方。
func Invalid(format string, args ...any) error {
	return &userError{msg: fmt.Sprintf(format, args...), kind: ErrValidation}
}

// NotFound 返回包装 ErrNotFound 的错误。
func NotFound(format string, args ...any) error {
	return &userError{msg: fmt.Sprintf(format, args...), kind: ErrNotFound}
}

// Finalized 返回包装 ErrAlreadyFinalized 的错误。
func Finalized(format string, args ...any) error {
	return &userError{msg: fmt.Sprintf(format, args...), kind: ErrAlreadyFinalized}
}

// BadState 返回包装 ErrInvalidState 的错误。
func BadState(format string, args ...any) error {
	return &userError{msg: fmt.Sprintf(format, args...), kind: ErrInvalidState}
}

// Upstream 包装外部依赖错误；Message 只给出通用描述，细节保留在错误链中供日志使用。
func Upstream(what string, err error) error {
	return &upstreamError{what: what, err: err}
}

type userError struct {
	msg  string
	kind error
}

func (e *userError) Error() string        { return e.msg }
func (e *userError) Is(target error) bool { return target == e.kind }

type upstreamError struct {
	what string
	err  error
}

func (e *upstreamError) Error() string        { return e.what + ": " + e.err.Error() }
func (e *upstreamError) Unwrap() error        { return e.err }
func (e *upstreamError) Is(target error) bool { return target == ErrUpstream }

// PublicMessage 返回可以直接回给调用方的消息：用户可修正的错误原样返回，上游错误只给出概要。
func PublicMessage(err error) string {
	var ue *upstreamError
	if errors.As(err, &ue) {
		return ue.what
	}
	return err.Error()
}
