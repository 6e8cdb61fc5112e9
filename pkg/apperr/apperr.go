// Package apperr 定义业务错误分类，供 handler 统一映射为 HTTP 状态码与业务码
package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindStateConflict
	KindUsageLimitExceeded
	KindInsufficientBalance
	KindUnauthorized
	KindForbidden
	KindExternalProvider
	KindIntegrityAnomaly
	KindRateUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	case KindUsageLimitExceeded:
		return "usage_limit_exceeded"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindExternalProvider:
		return "external_provider"
	case KindIntegrityAnomaly:
		return "integrity_anomaly"
	case KindRateUnavailable:
		return "rate_unavailable"
	default:
		return "internal"
	}
}

// Error 业务错误
type Error struct {
	Kind    Kind
	Message string
	// Reason 细分原因，例如优惠码无效的具体原因
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同 Kind 同 Message 视为同一错误，便于哨兵错误在 Wrap 之后仍能 errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message && (t.Reason == "" || t.Reason == e.Reason)
}

// New 创建业务错误
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// WithReason 复制错误并附加原因
func (e *Error) WithReason(reason string) *Error {
	cp := *e
	cp.Reason = reason
	return &cp
}

// Wrap 复制错误并附加底层错误
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// KindOf 取错误分类，非业务错误返回 KindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind 判断错误分类
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ReasonOf 取错误原因
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
