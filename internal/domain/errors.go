package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the structured code surfaced to API callers.
type ErrorCode string

const (
	CodeValidation ErrorCode = "VALIDATION"
	CodeDelivery   ErrorCode = "DELIVERY"
	CodeExhausted  ErrorCode = "EXHAUSTED"
	CodeCapacity   ErrorCode = "CAPACITY"
	CodeNotFound   ErrorCode = "NOT_FOUND"
)

// Error is a coded broker error. Validation and not-found errors surface
// synchronously to callers; delivery and exhaustion errors are only ever
// observable through subscription status, dead-letter listing and stats.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	wrapped error
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is matches on the error code so callers can use errors.Is with a bare
// coded error.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Validationf creates a ValidationError.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Deliveryf creates a transient DeliveryError.
func Deliveryf(format string, args ...any) *Error {
	return &Error{Code: CodeDelivery, Message: fmt.Sprintf(format, args...)}
}

// Exhaustedf creates an ExhaustionError (retries used up).
func Exhaustedf(format string, args ...any) *Error {
	return &Error{Code: CodeExhausted, Message: fmt.Sprintf(format, args...)}
}

// Capacityf creates a CapacityError (backpressure).
func Capacityf(format string, args ...any) *Error {
	return &Error{Code: CodeCapacity, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf creates a NotFoundError.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code, defaulting to DELIVERY for uncoded
// errors encountered on the delivery path.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeDelivery
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
