package jsondb

import (
	"errors"
	"fmt"
)

// ErrorCode classifies store failures.
type ErrorCode string

const (
	// CodeInvalidPath is returned when a path or key is malformed or unsafe.
	CodeInvalidPath ErrorCode = "INVALID_PATH"
	// CodeInvalidFilter is returned when a filter cannot be compiled.
	CodeInvalidFilter ErrorCode = "INVALID_FILTER"
	// CodeInvalidDocument is returned when a JSON payload cannot be parsed.
	CodeInvalidDocument ErrorCode = "INVALID_DOCUMENT"
	// CodeCorrupt is returned when a stored value fails to decode.
	CodeCorrupt ErrorCode = "CORRUPT_RECORD"
	// CodeStorage is returned when the backing database fails.
	CodeStorage ErrorCode = "STORAGE_ERROR"
)

// Sentinel errors usable with errors.Is.
var (
	ErrInvalidPath     = &Error{code: CodeInvalidPath, message: "invalid path"}
	ErrInvalidFilter   = &Error{code: CodeInvalidFilter, message: "invalid filter"}
	ErrInvalidDocument = &Error{code: CodeInvalidDocument, message: "invalid document"}
	ErrCorrupt         = &Error{code: CodeCorrupt, message: "corrupt record"}
	ErrStorage         = &Error{code: CodeStorage, message: "storage failure"}
)

// Error is the concrete error type returned by the store.
type Error struct {
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *Error) Wrap(err error) *Error {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Details returns additional error details.
func (e *Error) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *Error) Unwrap() error {
	return e.wrappedErr
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.code == e.code
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return ""
}

func invalidPath(format string, args ...any) *Error {
	return newError(CodeInvalidPath, format, args...)
}

func invalidFilter(format string, args ...any) *Error {
	return newError(CodeInvalidFilter, format, args...)
}

func invalidDocument(err error) error {
	return newError(CodeInvalidDocument, "invalid document").Wrap(err)
}

func corrupt(format string, args ...any) error {
	return newError(CodeCorrupt, format, args...)
}

func storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(CodeStorage, "%s failed", op).Wrap(err)
}
