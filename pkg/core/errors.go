package core

import "fmt"

// Error is the structured error type used across the runtime.
// Code identifies the failure class; Message carries detail.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Errorf builds an *Error with a formatted message.
func Errorf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Failure classes used by the worker runtime.
const (
	CodeSubmissionFailed   = "SUBMISSION_FAILED"
	CodeCallbackFailed     = "CALLBACK_FAILED"
	CodeMisuse             = "MISUSE"
	CodeCancelled          = "CANCELLED"
	CodeDeadlineExceeded   = "DEADLINE_EXCEEDED"
	CodeFailedPrecondition = "FAILED_PRECONDITION"
	CodeUnknown            = "UNKNOWN"
)

// ErrCancelled is delivered to callbacks that are torn down before they
// could run (loop destruction, kill during drain).
var ErrCancelled = &Error{Code: CodeCancelled, Message: "operation cancelled"}

// ErrDeadlineExceeded is delivered to wait-one callbacks whose timeout
// elapsed before the wait source fired.
var ErrDeadlineExceeded = &Error{Code: CodeDeadlineExceeded, Message: "deadline exceeded"}

// IsCancelled reports whether err carries the cancelled code.
func IsCancelled(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Code == CodeCancelled
}

// IsDeadlineExceeded reports whether err carries the deadline-exceeded code.
func IsDeadlineExceeded(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Code == CodeDeadlineExceeded
}

// Misusef builds a fail-fast programming error. Callers treat these as
// bugs, not recoverable conditions.
func Misusef(format string, args ...interface{}) *Error {
	return Errorf(CodeMisuse, format, args...)
}
