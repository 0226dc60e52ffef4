package models

import (
	"errors"
	"fmt"
)

// 错误分类（引擎内任何失败只降级单个 agent 流或单个订阅连接，不崩溃进程）
var (
	// ErrValidation 样本不合法（精度超限、时钟超前等）——丢弃并记日志，不重试
	ErrValidation = errors.New("validation error")

	// ErrStaleSample 样本乱序超出容差——静默丢弃，计入指标
	ErrStaleSample = errors.New("stale sample")

	// ErrInvalidTransition 非法的生命周期转换——返回调用方，不自动重试
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrUnauthorized 外部鉴权失败——返回调用方
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStoreUnavailable 持久化写入失败——入队溢出缓冲并计入降级指标
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDispatchFailure 单连接投递失败——驱逐该连接，不影响其他订阅者
	ErrDispatchFailure = errors.New("dispatch failure")

	// ErrNotFound 实体不存在
	ErrNotFound = errors.New("not found")
)

// RejectionError 带原因的样本拒绝（HTTP 层据此返回 400/409）
type RejectionError struct {
	Kind   error // ErrValidation 或 ErrStaleSample
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return e.Kind
}

// NewRejection 构建拒绝错误
func NewRejection(kind error, format string, args ...interface{}) *RejectionError {
	return &RejectionError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}
