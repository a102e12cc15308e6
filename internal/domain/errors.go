package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind 错误分类，HTTP 层据此映射状态码和 reason
type ErrorKind string

const (
	KindUnauthenticated    ErrorKind = "unauthenticated"
	KindUnauthorized       ErrorKind = "unauthorized"
	KindForbiddenOrigin    ErrorKind = "forbidden_origin"
	KindRateLimited        ErrorKind = "rate_limited"
	KindNotFound           ErrorKind = "not_found"
	KindAlreadyClaimed     ErrorKind = "already_claimed"
	KindInvalidArgument    ErrorKind = "invalid_argument"
	KindPersistenceFailure ErrorKind = "persistence_failure"
	KindDispatchFailure    ErrorKind = "notification_dispatch_failure"
)

// Error 领域错误
type Error struct {
	Kind    ErrorKind
	Message string
	// RetryAfter 仅 RateLimited 使用
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 按 Kind 比较，使 errors.Is(err, domain.ErrNotFound) 成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable 只有 PersistenceFailure 允许调用方退避重试
func (e *Error) Retryable() bool {
	return e.Kind == KindPersistenceFailure
}

var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrUnauthorized    = &Error{Kind: KindUnauthorized}
	ErrForbiddenOrigin = &Error{Kind: KindForbiddenOrigin}
	ErrRateLimited     = &Error{Kind: KindRateLimited}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrAlreadyClaimed  = &Error{Kind: KindAlreadyClaimed}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrPersistence     = &Error{Kind: KindPersistenceFailure}
)

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Unauthenticated(msg string) *Error { return newError(KindUnauthenticated, msg, nil) }

func Unauthorized(msg string) *Error { return newError(KindUnauthorized, msg, nil) }

func ForbiddenOrigin(origin string) *Error {
	return newError(KindForbiddenOrigin, fmt.Sprintf("origin %q is not allowed", origin), nil)
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: "too many requests", RetryAfter: retryAfter}
}

func NotFound(msg string) *Error { return newError(KindNotFound, msg, nil) }

func AlreadyClaimed(msg string) *Error { return newError(KindAlreadyClaimed, msg, nil) }

func InvalidArgument(msg string) *Error { return newError(KindInvalidArgument, msg, nil) }

func Persistence(msg string, err error) *Error { return newError(KindPersistenceFailure, msg, err) }

func DispatchFailure(msg string, err error) *Error { return newError(KindDispatchFailure, msg, err) }

// KindOf 取错误链上第一个领域错误的 Kind；非领域错误返回空
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// AsError 非领域错误一律视为 PersistenceFailure（存储/网络超时都走这条路）
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return Persistence("unexpected storage error", err)
}
