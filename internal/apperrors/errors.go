// Package apperrors defines the structured error type shared by every
// component of the director, mapping each failure mode named in the
// component contracts to a stable code a caller can branch on.
package apperrors

import (
	"fmt"
	"runtime"
	"strings"
)

// Code identifies the kind of failure independent of its message text.
type Code string

const (
	CodeConfigInvalid           Code = "CONFIG_INVALID"
	CodeOrchestratorUnavailable Code = "ORCHESTRATOR_UNAVAILABLE"
	CodeNoMatchingResources     Code = "NO_MATCHING_RESOURCES"
	CodeNoCapacity              Code = "NO_CAPACITY"
	CodeNoCandidates            Code = "NO_CANDIDATES"
	CodeUnknownResourceType     Code = "UNKNOWN_RESOURCE_TYPE"
	CodeExtractionFailure       Code = "EXTRACTION_FAILURE"
	CodeInvalidToken            Code = "INVALID_TOKEN"
	CodeBindFailure             Code = "BIND_FAILURE"
	CodeForwardingError         Code = "FORWARDING_ERROR"
	CodeTargetUnreachable       Code = "TARGET_UNREACHABLE"
	CodeInternal                Code = "INTERNAL_ERROR"
)

// AppError is the structured error carried across component boundaries.
type AppError struct {
	Code       Code
	Message    string
	Details    map[string]interface{}
	Underlying error
	StackTrace []string
}

func (e *AppError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Underlying
}

func captureStackTrace(skip int) []string {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip+2, pcs[:])

	frames := runtime.CallersFrames(pcs[:n])
	trace := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		trace = append(trace, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}
	return trace
}

// New creates an AppError carrying the given code and message.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, StackTrace: captureStackTrace(1)}
}

// Newf creates an AppError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), StackTrace: captureStackTrace(1)}
}

// Wrap attaches a code and message to an existing error.
func Wrap(err error, code Code, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Underlying: err, StackTrace: captureStackTrace(1)}
}

// Wrapf attaches a code and formatted message to an existing error.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Underlying: err, StackTrace: captureStackTrace(1)}
}

// WithDetail attaches a single structured detail to the error.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// GetStackTrace renders the captured stack trace for logging.
func (e *AppError) GetStackTrace() string {
	return strings.Join(e.StackTrace, "\n")
}

// Is reports whether err is an AppError carrying code.
func Is(err error, code Code) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return CodeInternal
}
