// Package apperror defines the error kinds raised by the booking core and
// their mapping onto HTTP status codes.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNotFound      Kind = "NOT_FOUND"
	KindConflict      Kind = "CONFLICT"
	KindBadRequest    Kind = "BAD_REQUEST"
	KindAccessDenied  Kind = "ACCESS_DENIED"
	KindUnauthorized  Kind = "UNAUTHORIZED"
	KindPaymentFailed Kind = "PAYMENT_FAILED"
	KindRefundFailed  Kind = "REFUND_FAILED"
	KindInternal      Kind = "INTERNAL_SERVER_ERROR"
)

// Error is a typed domain error. Err, when set, is the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, format, args...)
}

func BadRequest(format string, args ...interface{}) *Error {
	return New(KindBadRequest, format, args...)
}

func AccessDenied(format string, args ...interface{}) *Error {
	return New(KindAccessDenied, format, args...)
}

func Unauthorized(format string, args ...interface{}) *Error {
	return New(KindUnauthorized, format, args...)
}

// PaymentFailed wraps a gateway confirm failure.
func PaymentFailed(err error) *Error {
	return &Error{Kind: KindPaymentFailed, Message: "payment confirmation failed", Err: err}
}

// RefundFailed wraps a gateway cancel failure.
func RefundFailed(err error) *Error {
	return &Error{Kind: KindRefundFailed, Message: "refund failed", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message of err.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindBadRequest, KindPaymentFailed, KindRefundFailed:
		return http.StatusBadRequest
	case KindAccessDenied:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
