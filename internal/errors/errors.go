package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type for pgwsearch.
// It carries enough context for retry decisions, logging, and user presentation.
type Error struct {
	// Code is the unique error code (e.g., "ERR_403_INVALID_QUERY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Backend, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried by the caller.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code, so errors.Is works against the package sentinels
// regardless of message or cause.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code string, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. Matching is by code.
var (
	ErrNoSearchers           = New(ErrCodeNoSearchers, "no searchers configured", nil)
	ErrRedundantFusionMethod = New(ErrCodeRedundantFusionMethod, "fusion method given for a single searcher", nil)
	ErrNoFusionMethod        = New(ErrCodeNoFusionMethod, "multiple searchers require a fusion method", nil)
	ErrIndexUnavailable      = New(ErrCodeIndexUnavailable, "index unavailable", nil)
	ErrDocumentNotFound      = New(ErrCodeDocumentNotFound, "document not found", nil)
	ErrBackendUnavailable    = New(ErrCodeBackendUnavailable, "backend unavailable", nil)
	ErrInvalidQuery          = New(ErrCodeInvalidQuery, "invalid query", nil)
	ErrDimensionMismatch     = New(ErrCodeDimensionMismatch, "vector dimension mismatch", nil)
	ErrModelNotFound         = New(ErrCodeModelNotFound, "embedding model not found", nil)
	ErrEmptyFusionInput      = New(ErrCodeEmptyFusionInput, "fusion requires at least one input", nil)
	ErrUndefinedMetric       = New(ErrCodeUndefinedMetric, "result has no defined ranking metric", nil)
	ErrPartialRerank         = New(ErrCodePartialRerank, "rerank dropped candidates", nil)
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// BackendError creates a retryable backend-unavailable error.
func BackendError(message string, cause error) *Error {
	return New(ErrCodeBackendUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable reports whether any Error in the chain is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first Error in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetCategory extracts the category from the first Error in the chain.
func GetCategory(err error) Category {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Category
	}
	return ""
}
