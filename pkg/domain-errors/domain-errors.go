// Package domainerrors carries a stable failure class alongside an error so
// services, stores and the HTTP edge agree on what went wrong.
package domainerrors

import "errors"

// Code is a transport-independent failure class.
type Code string

const (
	CodeBadRequest Code = "bad_request"
	CodeValidation Code = "validation_failed"
	CodeNotFound   Code = "not_found"
	CodeConflict   Code = "conflict"
	CodeInternal   Code = "internal_error"
	CodeTimeout    Code = "timeout"

	CodeVerificationFailed Code = "verification_failed" // bad or absent signature, unsupported credential
	CodeTransient          Code = "transient"           // 5xx or network failure from a downstream service
	CodePersistence        Code = "persistence_failed"  // durable write failed
	CodeConsistency        Code = "consistency_failed"  // read-after-write never converged
	CodeThresholdExceeded  Code = "threshold_exceeded"  // batch error threshold reached
)

// Retryable reports whether a failure of this class may succeed when the
// same call is repeated unchanged.
func (c Code) Retryable() bool {
	return c == CodeTransient || c == CodeTimeout
}

// Error is a coded failure. Message is safe to show to callers; Err keeps
// the underlying cause for logs.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, so errors.Is(err, &Error{Code: c})
// works through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches msg to err. A domain code already present in err wins over
// code.
func Wrap(err error, code Code, msg string) error {
	if existing, ok := As(err); ok {
		code = existing.Code
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func HasCode(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}
