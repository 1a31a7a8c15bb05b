package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeResolution ErrorType = "resolution"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeProtocol   ErrorType = "protocol"
	ErrorTypeRegistry   ErrorType = "registry"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeInternal   ErrorType = "internal"
)

// ErrorSeverity represents the severity level of errors
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"      // Minor issues, application continues normally
	SeverityMedium   ErrorSeverity = "medium"   // Notable issues that may affect user experience
	SeverityHigh     ErrorSeverity = "high"     // Serious issues that significantly impact functionality
	SeverityCritical ErrorSeverity = "critical" // Critical issues that may cause system instability
)

// AppError represents a structured application error
type AppError struct {
	Type      ErrorType     `json:"type"`
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	Details   string        `json:"details,omitempty"`
	Severity  ErrorSeverity `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
	Cause     error         `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap implements the Unwrap interface for error wrapping
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(errorType ErrorType, code string, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Severity:  SeverityMedium,
		Timestamp: time.Now(),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errorType ErrorType, code string, message string) *AppError {
	appErr := &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Severity:  SeverityMedium,
		Timestamp: time.Now(),
		Cause:     err,
	}
	if err != nil {
		appErr.Details = err.Error()
	}
	return appErr
}

// WithSeverity sets the severity level of an error
func (e *AppError) WithSeverity(severity ErrorSeverity) *AppError {
	e.Severity = severity
	return e
}

// WithDetails adds additional details to an error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// TypeOf returns the ErrorType of err when it is (or wraps) an AppError.
func TypeOf(err error) (ErrorType, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type, true
	}
	return "", false
}

// IsType reports whether err carries the given error type.
func IsType(err error, t ErrorType) bool {
	typ, ok := TypeOf(err)
	return ok && typ == t
}
