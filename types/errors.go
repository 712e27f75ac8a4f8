package types

import (
	"errors"
	"fmt"
)

// Error classification codes
const (
	// CodeParse malformed statement text
	CodeParse = "ParseError"
	// CodeValidation statement is well formed but cannot be compiled
	CodeValidation = "ValidationError"
	// CodeSchema unknown table, index or attribute
	CodeSchema = "SchemaError"
	// CodeConditionalCheckFailed the UPDATE/DELETE predicate did not match
	CodeConditionalCheckFailed = "ConditionalCheckFailed"
	// CodeThrottled the backend kept throttling after the retry budget
	CodeThrottled = "ThrottledError"
	// CodeTimeout waiting for a table to become active or go away took too long
	CodeTimeout = "TimeoutError"
)

var (
	// ErrParse matches any parse error
	ErrParse = NewError(CodeParse, "", nil)
	// ErrValidation matches any validation error
	ErrValidation = NewError(CodeValidation, "", nil)
	// ErrSchema matches any schema error
	ErrSchema = NewError(CodeSchema, "", nil)
	// ErrConditionalCheckFailed matches failed conditional writes
	ErrConditionalCheckFailed = NewError(CodeConditionalCheckFailed, "", nil)
	// ErrThrottled matches exhausted throttling retries
	ErrThrottled = NewError(CodeThrottled, "", nil)
	// ErrTimeout matches table wait timeouts
	ErrTimeout = NewError(CodeTimeout, "", nil)
)

// An Error wraps lower level errors with code, message and an original error.
// errors.Is matches it against the sentinel of the same code, and errors.As
// reaches the wrapped backend error.
type Error interface {
	error

	Code() string
	Message() string
	OrigErr() error
}

// NewError returns an Error object described by the code, message, and origErr.
func NewError(code, message string, origErr error) Error {
	var errs []error
	if origErr != nil {
		errs = append(errs, origErr)
	}

	return &baseError{
		code:    code,
		message: message,
		errs:    errs,
	}
}

// Errorf formats a message into a new Error with the given code
func Errorf(code, format string, args ...any) Error {
	return NewError(code, fmt.Sprintf(format, args...), nil)
}

// Validationf creates a validation error
func Validationf(format string, args ...any) Error {
	return Errorf(CodeValidation, format, args...)
}

// Schemaf creates a schema error
func Schemaf(format string, args ...any) Error {
	return Errorf(CodeSchema, format, args...)
}

// SprintError returns a string of the formatted error code.
func SprintError(code, message, extra string, origErr error) string {
	msg := code
	if message != "" {
		msg = fmt.Sprintf("%s: %s", code, message)
	}

	if extra != "" {
		msg = fmt.Sprintf("%s\n\t%s", msg, extra)
	}

	if origErr != nil {
		msg = fmt.Sprintf("%s\ncaused by: %s", msg, origErr.Error())
	}

	return msg
}

type baseError struct {
	code    string
	message string
	errs    []error
}

func (b *baseError) Error() string {
	return SprintError(b.code, b.message, "", errors.Join(b.errs...))
}

// Code returns the short phrase depicting the classification of the error.
func (b *baseError) Code() string { return b.code }

// Message returns the error details message.
func (b *baseError) Message() string { return b.message }

// OrigErr returns the first wrapped error, nil if there is none.
func (b *baseError) OrigErr() error {
	if len(b.errs) == 0 {
		return nil
	}

	return b.errs[0]
}

// Unwrap exposes the wrapped errors to errors.Is and errors.As
func (b *baseError) Unwrap() []error { return b.errs }

// Is matches sentinels: an Error without message matches every error of its code
func (b *baseError) Is(target error) bool {
	return matchesCode(b.code, target)
}

// ParseError is a malformed statement. Offset is the byte offset in the
// source text, Line and Column are 1-based.
type ParseError struct {
	Offset   int
	Line     int
	Column   int
	Expected string
	Found    string
}

func (e *ParseError) Error() string {
	return SprintError(CodeParse, e.Message(), "", nil)
}

// Code returns CodeParse
func (e *ParseError) Code() string { return CodeParse }

// Message describes what the parser expected and where
func (e *ParseError) Message() string {
	return fmt.Sprintf("line %d, column %d: expected %s, found %s", e.Line, e.Column, e.Expected, e.Found)
}

// OrigErr always returns nil
func (e *ParseError) OrigErr() error { return nil }

// Is matches ErrParse
func (e *ParseError) Is(target error) bool {
	return matchesCode(CodeParse, target)
}

func matchesCode(code string, target error) bool {
	t, ok := target.(*baseError)
	if !ok {
		return false
	}

	return t.message == "" && len(t.errs) == 0 && t.code == code
}

// HasCode reports whether err carries the given classification code
func HasCode(err error, code string) bool {
	var e Error
	if !errors.As(err, &e) {
		return false
	}

	return e.Code() == code
}
