// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrQueueFull  = errors.New("queue full")
	ErrInternal   = errors.New("internal error")

	ErrUnauthorized     = errors.New("unauthorized")
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// Machine-readable error codes surfaced to API callers.
const (
	CodeInvalidURL        = "invalid-url"
	CodeUnsupportedMethod = "unsupported-method"
	CodeInvalidPattern    = "invalid-pattern"
	CodeInvalidRate       = "invalid-rate"
	CodeInvalidRequest    = "invalid-request"
	CodeQueueFull         = "queue-full"
	CodeNotFound          = "not-found"
	CodeInternal          = "internal"
	CodeUnauthorized      = "unauthorized"
	CodeUnsupportedMedia  = "unsupported-media-type"
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Code     string // Machine-readable code (e.g., "invalid-url")
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "url", "patterns")
	Resource string // For not found errors (e.g., "scheduler")
	Op       string // Operation that failed (e.g., "cache.store")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Code:     CodeInvalidRequest,
		Message:  message,
		Field:    field,
	}
}

// InvalidURL creates the admission rejection for a URL outside the allow-list.
func InvalidURL(rawURL string) error {
	return &Error{
		Sentinel: ErrValidation,
		Code:     CodeInvalidURL,
		Message:  fmt.Sprintf("url %q is not allowed by this scheduler", rawURL),
		Field:    "url",
	}
}

// WithCode creates a validation error carrying a specific code.
func WithCode(code, field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Code:     code,
		Message:  message,
		Field:    field,
	}
}

// QueueFull creates a capacity error for a scheduler whose queue is at its limit.
func QueueFull(schedulerID string, capacity int) error {
	return &Error{
		Sentinel: ErrQueueFull,
		Code:     CodeQueueFull,
		Message:  fmt.Sprintf("scheduler %s queue is full (capacity %d)", schedulerID, capacity),
		Resource: "scheduler",
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Code:     CodeNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Code:     CodeInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Unauthorized creates an authentication failure.
func Unauthorized(message string) error {
	return &Error{
		Sentinel: ErrUnauthorized,
		Code:     CodeUnauthorized,
		Message:  message,
	}
}

// UnsupportedMedia rejects a request body of the wrong content type.
func UnsupportedMedia(contentType string) error {
	return &Error{
		Sentinel: ErrUnsupportedMedia,
		Code:     CodeUnsupportedMedia,
		Message:  fmt.Sprintf("content type %q is not supported, use application/json", contentType),
	}
}

// Code returns the machine-readable code of err, or "" if it carries none.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
