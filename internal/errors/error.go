package errors

import "fmt"

// Category represents the type of error.
type Category string

const (
	CategoryStorage  Category = "storage"
	CategoryProtocol Category = "protocol"
	CategoryConfig   Category = "config"
	CategoryCLI      Category = "cli"
)

// PulseError is a structured error with a code, explanation and hint.
type PulseError struct {
	// Code is a unique error identifier (e.g., "P001").
	Code string

	// Category is the error type (storage, protocol, ...).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation, usually naming the key or path involved.
	Detail string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *PulseError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *PulseError) Unwrap() error {
	return e.Wrapped
}

// Is matches another *PulseError with the same non-empty code.
func (e *PulseError) Is(target error) bool {
	t, ok := target.(*PulseError)
	if !ok {
		return false
	}
	return e.Code != "" && e.Code == t.Code
}

// WithDetail adds a detailed explanation to the error.
func (e *PulseError) WithDetail(d string) *PulseError {
	e.Detail = d
	return e
}

// WithDetailf adds a formatted detail.
func (e *PulseError) WithDetailf(format string, args ...any) *PulseError {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *PulseError) WithSuggestion(s string) *PulseError {
	e.Suggestion = s
	return e
}

// Wrap wraps another error.
func (e *PulseError) Wrap(err error) *PulseError {
	e.Wrapped = err
	return e
}

// New creates a PulseError from a registered error code.
func New(code string) *PulseError {
	template, ok := registry[code]
	if !ok {
		return &PulseError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &PulseError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new PulseError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *PulseError {
	return &PulseError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a PulseError.
// An error that already is a *PulseError is returned unchanged.
func FromError(err error, code string) *PulseError {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*PulseError); ok {
		return pe
	}
	return New(code).Wrap(err)
}
