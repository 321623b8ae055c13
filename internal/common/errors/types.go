package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeValidation represents bad input rejected before any network call
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeAuth represents token acquisition or refresh failures
	ErrTypeAuth ErrorType = "authentication"
	// ErrTypeRateLimit represents an exhausted provider rate-limit retry budget
	ErrTypeRateLimit ErrorType = "rate_limit"
	// ErrTypeTimeout represents an exceeded upstream deadline
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeParse represents an unexpected provider response shape
	ErrTypeParse ErrorType = "parse"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeUpstream represents provider failures that are not covered by a more specific type
	ErrTypeUpstream ErrorType = "upstream"
	// ErrTypeCanceled represents a caller that gave up before the operation completed
	ErrTypeCanceled ErrorType = "canceled"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Field   string                 `json:"field,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`

	// RetryAfter is the suggested wait before retrying, set on rate-limit errors
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	// Retryable marks transient failures the caller may retry locally
	Retryable bool `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.RetryAfter > 0 {
		parts = append(parts, fmt.Sprintf("retry_after=%s", e.RetryAfter))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause attaches an underlying error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// ValidationError creates a new validation error for the named input field
func ValidationError(field, msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
		Field:   field,
	}
}

// AuthError creates a new authentication error
func AuthError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeAuth,
		Message: msg,
		Cause:   cause,
	}
}

// RetryableAuthError creates an authentication error caused by a transient failure
func RetryableAuthError(msg string, cause error) *AppError {
	e := AuthError(msg, cause)
	e.Retryable = true
	return e
}

// RateLimitError creates a new rate limit error carrying the provider's retry hint
func RateLimitError(resource string, retryAfter time.Duration) *AppError {
	return &AppError{
		Type:       ErrTypeRateLimit,
		Message:    fmt.Sprintf("rate limit exceeded for %s", resource),
		RetryAfter: retryAfter,
	}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeTimeout,
		Message:   fmt.Sprintf("timeout during %s", operation),
		Cause:     cause,
		Retryable: true,
	}
}

// ParseError creates a new parse error. shape describes the response without leaking it.
func ParseError(msg string, status int, shape string) *AppError {
	return &AppError{
		Type:    ErrTypeParse,
		Message: msg,
		Context: map[string]interface{}{
			"status": status,
			"shape":  shape,
		},
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// UpstreamError creates a new error for a failed provider call
func UpstreamError(msg string, status int, cause error) *AppError {
	e := &AppError{
		Type:      ErrTypeUpstream,
		Message:   msg,
		Cause:     cause,
		Retryable: status == 0 || status >= 500,
	}
	if status != 0 {
		e.WithContext("status", status)
	}
	return e
}

// CanceledError creates a new error for a caller that cancelled the operation
func CanceledError(operation string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeCanceled,
		Message: fmt.Sprintf("%s canceled", operation),
		Cause:   cause,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// FromContext converts a context error into a CanceledError or TimeoutError for
// the named operation. Other errors, including AppErrors, are returned unchanged.
func FromContext(operation string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	switch {
	case stderrors.Is(err, context.Canceled):
		return CanceledError(operation, err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return TimeoutError(operation, err)
	}
	return err
}

// As returns the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if err == nil || !stderrors.As(err, &appErr) {
		return nil, false
	}
	return appErr, true
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	return appErr.Type == errType
}

// IsRetryable reports whether err is an AppError marked as transient
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Retryable
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	appErr, ok := As(err)
	if !ok {
		return ErrTypeInternal
	}

	return appErr.Type
}
