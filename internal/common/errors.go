package common

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// Kind 错误分类，决定重试、单项失败还是整轮失败
type Kind string

const (
	KindSourceUnavailable   Kind = "SourceUnavailable"
	KindSourceFormatChanged Kind = "SourceFormatChanged"
	KindRateLimited         Kind = "RateLimited"
	KindQuotaExceeded       Kind = "QuotaExceeded"
	KindInvalidResponse     Kind = "InvalidResponse"
	KindUnauthorized        Kind = "Unauthorized"
	KindUnavailable         Kind = "Unavailable" // LLM 网络/超时
	KindRejected            Kind = "Rejected"
	KindPlatformUnavailable Kind = "PlatformUnavailable"
	KindAlreadyRecorded     Kind = "AlreadyRecorded"
	KindStore               Kind = "StoreError"
	KindRecord              Kind = "RecordFailed"
	KindCanceled            Kind = "Canceled"
	KindInternal            Kind = "Internal"
)

// Retryable 瞬时错误，在组件边界退避重试
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindInvalidResponse, KindUnavailable, KindPlatformUnavailable:
		return true
	}
	return false
}

// RunFatal 中止本轮剩余工作
func (k Kind) RunFatal() bool {
	switch k {
	case KindUnauthorized, KindQuotaExceeded, KindSourceUnavailable, KindSourceFormatChanged:
		return true
	}
	return false
}

// AppError 应用级错误结构
type AppError struct {
	Kind    Kind
	Op      string
	Message string
	Err     error

	// RetryAfter 是服务端建议的等待时间（如 Retry-After 头），0 表示未提供
	RetryAfter time.Duration
}

func (e *AppError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "[" + msg + "]"
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(kind Kind, op, message string) error {
	return &AppError{Kind: kind, Op: op, Message: message}
}

// Errorf 创建带格式化信息的错误
func Errorf(kind Kind, op, format string, args ...any) error {
	return &AppError{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError 包装错误
func WrapError(kind Kind, op string, err error) error {
	return &AppError{Kind: kind, Op: op, Err: err}
}

// WithRetryAfter 给错误附加服务端建议的重试等待
func WithRetryAfter(err error, d time.Duration) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		appErr.RetryAfter = d
		return err
	}
	return &AppError{Kind: KindInternal, Err: err, RetryAfter: d}
}

// ErrAlreadyRecorded 表示该仓库已经有发布记录
var ErrAlreadyRecorded = &AppError{Kind: KindAlreadyRecorded, Message: "publication already recorded"}

// KindOf 取出错误分类，未分类的错误归为 Internal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindInternal
}

// RetryAfterOf 取出服务端建议的等待时间
func RetryAfterOf(err error) time.Duration {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.RetryAfter
	}
	return 0
}

// IsRetryable 判断错误是否值得重试
func IsRetryable(err error) bool {
	return err != nil && KindOf(err).Retryable()
}

// IsRunFatal 判断错误是否会中止整轮
func IsRunFatal(err error) bool {
	return err != nil && KindOf(err).RunFatal()
}
