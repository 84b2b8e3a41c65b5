// Package apperr defines the typed errors returned across the circulation
// core. Every failure carries a Kind, which decides how callers react (fix the
// input, change intent, retry later), and a machine-readable Code that names
// the exact rule that was violated.
package apperr

import (
	"errors"
	"fmt"
)

// Kind groups error codes by how a caller is expected to react.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindInfrastructure Kind = "infrastructure"
	KindDelivery       Kind = "delivery"
)

// Code identifies a single failure reason.
type Code string

const (
	CodeValidation           Code = "VALIDATION_FAILED"
	CodeBorrowerNotFound     Code = "BORROWER_NOT_FOUND"
	CodeCopyNotFound         Code = "COPY_NOT_FOUND"
	CodeTitleNotFound        Code = "TITLE_NOT_FOUND"
	CodeLoanNotFound         Code = "LOAN_NOT_FOUND"
	CodeReservationNotFound  Code = "RESERVATION_NOT_FOUND"
	CodeJobNotFound          Code = "JOB_NOT_FOUND"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeCopyExists           Code = "COPY_EXISTS"
	CodeBookNotAvailable     Code = "BOOK_NOT_AVAILABLE"
	CodeLoanLimitExceeded    Code = "LOAN_LIMIT_EXCEEDED"
	CodeAlreadyReturned      Code = "ALREADY_RETURNED"
	CodeAlreadyReserved      Code = "ALREADY_RESERVED"
	CodeBookAvailable        Code = "BOOK_AVAILABLE"
	CodeReservationNotActive Code = "RESERVATION_NOT_ACTIVE"
	CodeQueueError           Code = "QUEUE_ERROR"
	CodePersistence          Code = "PERSISTENCE_UNAVAILABLE"
	CodeSendError            Code = "SEND_ERROR"
)

// Error is the single error type crossing the core's public boundary.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is an *Error with the same code, so that
// errors.Is(err, apperr.New(...)) style comparisons work on codes.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of e with key set in Details.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// New builds an Error without a cause.
func New(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Wrap builds an Error around cause.
func Wrap(kind Kind, code Code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: cause}
}

func Validation(msg string) *Error { return New(KindValidation, CodeValidation, msg) }

func NotFound(code Code, msg string) *Error { return New(KindNotFound, code, msg) }

func Conflict(code Code, msg string) *Error { return New(KindConflict, code, msg) }

// Infra wraps a persistence failure. The cause is kept for logging and never
// rendered to end users.
func Infra(op string, cause error) *Error {
	return Wrap(KindInfrastructure, CodePersistence, op, cause)
}

// QueueError wraps a failure to admit a notification job.
func QueueError(cause error) *Error {
	return Wrap(KindInfrastructure, CodeQueueError, "notification job could not be queued", cause)
}

// SendError describes a delivery that failed after attempts tries.
func SendError(attempts int, cause error) *Error {
	return Wrap(KindDelivery, CodeSendError, "notification delivery failed", cause).With("attempts", attempts)
}

// LoanLimitExceeded carries the numbers a caller needs to explain the refusal.
func LoanLimitExceeded(limit, current int) *Error {
	return Conflict(CodeLoanLimitExceeded, "borrower has reached the loan limit").
		With("limit", limit).
		With("currentCount", current)
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// KindOf returns the kind of err. Errors that are not *Error are treated as
// infrastructure failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInfrastructure
}
