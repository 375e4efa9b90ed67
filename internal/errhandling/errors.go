// Package errhandling provides error classification and the retry executor
// used by every call made against the reporting service.
package errhandling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrorCategory represents the type/category of an error.
type ErrorCategory string

// Error categories for classification.
const (
	// CategoryNetwork represents timeouts, refused connections and DNS failures.
	// Network errors are transient and retryable.
	CategoryNetwork ErrorCategory = "network"

	// CategoryAuthentication represents rejected credentials (401).
	CategoryAuthentication ErrorCategory = "authentication"

	// CategoryPermission represents a request the session is not allowed to make (403).
	// Permission errors are never retried.
	CategoryPermission ErrorCategory = "permission_denied"

	// CategoryValidation represents malformed requests (400, 422, other 4xx).
	CategoryValidation ErrorCategory = "validation"

	// CategoryRateLimit represents throttling (429). Retryable.
	CategoryRateLimit ErrorCategory = "rate_limit"

	// CategoryServer represents server errors (5xx). Retryable.
	CategoryServer ErrorCategory = "server"

	// CategoryNotFound represents a missing workbook, view or resource (404).
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryCanceled represents a run cancelled by the caller.
	CategoryCanceled ErrorCategory = "canceled"

	// CategoryUnknown represents unclassified errors.
	// Unknown errors are retryable by default (transient more likely than permanent).
	CategoryUnknown ErrorCategory = "unknown"
)

// ClassifiedError wraps an error with classification metadata.
type ClassifiedError struct {
	// Category is the error classification category.
	Category ErrorCategory

	// Retryable indicates whether the error is transient and can be retried.
	Retryable bool

	// StatusCode is the HTTP status code (0 if not an HTTP error).
	StatusCode int

	// Message is a human-readable error message.
	Message string

	// OriginalErr is the underlying error that was classified.
	OriginalErr error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

// Unwrap returns the original error for use with errors.Is and errors.As.
func (e *ClassifiedError) Unwrap() error {
	return e.OriginalErr
}

type statusClass struct {
	category  ErrorCategory
	retryable bool
	text      string
}

var knownStatuses = map[int]statusClass{
	400: {CategoryValidation, false, "bad request"},
	401: {CategoryAuthentication, false, "unauthorized"},
	403: {CategoryPermission, false, "forbidden"},
	404: {CategoryNotFound, false, "not found"},
	405: {CategoryValidation, false, "method not allowed"},
	409: {CategoryValidation, false, "conflict"},
	422: {CategoryValidation, false, "unprocessable entity"},
	429: {CategoryRateLimit, true, "rate limited"},
	500: {CategoryServer, true, "internal server error"},
	502: {CategoryServer, true, "bad gateway"},
	503: {CategoryServer, true, "service unavailable"},
	504: {CategoryServer, true, "gateway timeout"},
}

// ClassifyHTTPStatus classifies an HTTP error based on status code.
//
// Classification rules:
//   - 401: authentication (not retryable)
//   - 403: permission_denied (not retryable)
//   - 404: not_found (not retryable)
//   - 429, 5xx: retryable
//   - other 4xx: validation (not retryable)
//   - anything else: unknown (retryable)
//
// A non-empty message replaces the generic status text.
func ClassifyHTTPStatus(statusCode int, message string) *ClassifiedError {
	class, ok := knownStatuses[statusCode]
	switch {
	case ok:
	case statusCode >= 500:
		class = statusClass{CategoryServer, true, "server error"}
	case statusCode >= 400:
		class = statusClass{CategoryValidation, false, "client error"}
	default:
		class = statusClass{CategoryUnknown, true, "unexpected status"}
	}

	text := class.text
	if message != "" {
		text = message
	}
	return &ClassifiedError{
		Category:   class.category,
		Retryable:  class.retryable,
		StatusCode: statusCode,
		Message:    text,
	}
}

// ClassifyNetworkError classifies a transport-level error.
func ClassifyNetworkError(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{Category: CategoryUnknown, Message: "nil error"}
	}

	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{
			Category:    CategoryCanceled,
			Retryable:   false,
			Message:     "context canceled",
			OriginalErr: err,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewNetworkError("request timeout", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewNetworkError(fmt.Sprintf("DNS error: %s", dnsErr.Name), err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NewNetworkError(fmt.Sprintf("network error: %s %s", opErr.Op, opErr.Net), err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return NewNetworkError(fmt.Sprintf("URL error: %s %s", urlErr.Op, urlErr.URL), err)
	}

	type timeoutError interface {
		Timeout() bool
	}
	var timeoutErr timeoutError
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return NewNetworkError("timeout", err)
	}

	return &ClassifiedError{
		Category:    CategoryUnknown,
		Retryable:   true,
		Message:     err.Error(),
		OriginalErr: err,
	}
}

// ClassifyError classifies any error into a ClassifiedError.
// Already classified errors are returned as they are.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{Category: CategoryUnknown, Message: "nil error"}
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}
	return ClassifyNetworkError(err)
}

// IsRetryable returns true if the error is classified as retryable.
// Nil errors return false.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err).Retryable
}

// IsFatal returns true if the error must not be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch GetErrorCategory(err) {
	case CategoryAuthentication, CategoryPermission, CategoryValidation, CategoryNotFound, CategoryCanceled:
		return true
	default:
		return false
	}
}

// IsPermissionDenied reports whether err is a permission_denied error.
func IsPermissionDenied(err error) bool {
	return GetErrorCategory(err) == CategoryPermission
}

// IsNotFound reports whether err is a not_found error.
func IsNotFound(err error) bool {
	return GetErrorCategory(err) == CategoryNotFound
}

// IsCanceled reports whether err stems from cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || GetErrorCategory(err) == CategoryCanceled
}

// GetErrorCategory returns the error category for a given error.
// Returns CategoryUnknown for nil or unclassified errors.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category
	}
	return CategoryUnknown
}

// NewNetworkError creates a ClassifiedError for network errors.
func NewNetworkError(message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryNetwork,
		Retryable:   true,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// NewAuthenticationError creates a ClassifiedError for rejected credentials.
func NewAuthenticationError(statusCode int, message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryAuthentication,
		Retryable:   false,
		StatusCode:  statusCode,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// NewPermissionError creates a ClassifiedError for permission denials.
func NewPermissionError(message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryPermission,
		Retryable:   false,
		StatusCode:  403,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// NewValidationError creates a ClassifiedError for validation errors.
func NewValidationError(statusCode int, message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryValidation,
		Retryable:   false,
		StatusCode:  statusCode,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// NewServerError creates a ClassifiedError for server errors.
func NewServerError(statusCode int, message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryServer,
		Retryable:   true,
		StatusCode:  statusCode,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// NewNotFoundError creates a ClassifiedError for not found errors.
func NewNotFoundError(message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryNotFound,
		Retryable:   false,
		StatusCode:  404,
		Message:     message,
		OriginalErr: originalErr,
	}
}
