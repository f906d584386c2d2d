package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type returned by kbsearch packages.
// Code determines Category, Severity and Retryable unless set explicitly.
type Error struct {
	Code       string
	Message    string
	Category   Category
	Severity   Severity
	Details    map[string]string
	Cause      error
	Retryable  bool
	Suggestion string
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code, so errors.Is(err, &Error{Code: c}) works
// through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithDetail attaches a key/value pair and returns e for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets an operator-facing hint and returns e for chaining.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates an Error whose classification is derived from code.
func New(code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap converts err into an Error carrying code. Returns nil for a nil err.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

func IOError(message string, cause error) *Error {
	return New(ErrCodeCorpusRead, message, cause)
}

// NetworkError creates a retryable network error.
func NetworkError(message string, cause error) *Error {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidInput, message, cause)
}

func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// as finds the first *Error in err's chain.
func as(err error) (*Error, bool) {
	var e *Error
	if err == nil || !stderrors.As(err, &e) {
		return nil, false
	}
	return e, true
}

// IsRetryable reports whether any *Error in the chain is marked retryable.
func IsRetryable(err error) bool {
	e, ok := as(err)
	return ok && e.Retryable
}

// IsFatal reports whether err carries fatal severity.
func IsFatal(err error) bool {
	e, ok := as(err)
	return ok && e.Severity == SeverityFatal
}

// IsValidation reports whether err is a caller-misuse error.
func IsValidation(err error) bool {
	e, ok := as(err)
	return ok && e.Category == CategoryValidation
}

// GetCode returns the code of the first *Error in the chain, or "".
func GetCode(err error) string {
	if e, ok := as(err); ok {
		return e.Code
	}
	return ""
}
