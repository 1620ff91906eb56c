package errors

import (
	"errors"
	"fmt"
)

// WsbError is the structured error type for wsb.
// It carries enough context for logging, CLI display and programmatic checks.
type WsbError struct {
	// Code is the unique error code (e.g., "ERR_201_FILE_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Validation, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *WsbError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *WsbError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a WsbError with the same code.
func (e *WsbError) Is(target error) bool {
	if t, ok := target.(*WsbError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *WsbError) WithDetail(key, value string) *WsbError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *WsbError) WithSuggestion(suggestion string) *WsbError {
	e.Suggestion = suggestion
	return e
}

// New creates a new WsbError with the given code and message.
// Category and severity are derived from the code.
func New(code string, message string, cause error) *WsbError {
	return &WsbError{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause:    cause,
	}
}

// Wrap creates a WsbError from an existing error.
// The error's message becomes the WsbError message.
func Wrap(code string, err error) *WsbError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *WsbError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *WsbError {
	return New(ErrCodeFileNotFound, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *WsbError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *WsbError {
	return New(ErrCodeInternal, message, cause)
}

// IsFatal checks if an error in the chain has fatal severity.
// Fatal errors abort the current run.
func IsFatal(err error) bool {
	var we *WsbError
	if errors.As(err, &we) {
		return we.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first WsbError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var we *WsbError
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}

// GetCategory extracts the category from the first WsbError in the chain.
func GetCategory(err error) Category {
	var we *WsbError
	if errors.As(err, &we) {
		return we.Category
	}
	return ""
}
