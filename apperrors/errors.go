// Package apperrors defines the error taxonomy surfaced by the gallery engine's HTTP API.
package apperrors

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
)

// AppError defines the interface for application-specific errors
type AppError interface {
	error
	HTTPCode() int     // HTTP status code
	ErrorCode() string // Business error code
	Message() string   // User-friendly error message
	Details() string   // Detailed error information (optional)
}

// FieldError is a single rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// BaseError is a basic error structure that implements the AppError interface
type BaseError struct {
	httpCode  int
	errorCode string
	message   string
	details   string
	fields    []FieldError
}

// NewBaseError creates a new base error
func NewBaseError(httpCode int, errorCode, message, details string) *BaseError {
	return &BaseError{
		httpCode:  httpCode,
		errorCode: errorCode,
		message:   message,
		details:   details,
	}
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.details != "" {
		return e.message + ": " + e.details
	}
	return e.message
}

// Is matches on error code so that WithDetails copies still satisfy errors.Is against
// the predefined values.
func (e *BaseError) Is(target error) bool {
	t, ok := target.(*BaseError)
	if !ok {
		return false
	}
	return t.errorCode == e.errorCode
}

func (e *BaseError) HTTPCode() int {
	return e.httpCode
}

func (e *BaseError) ErrorCode() string {
	return e.errorCode
}

func (e *BaseError) Message() string {
	return e.message
}

func (e *BaseError) Details() string {
	return e.details
}

// Fields returns the per-field validation failures, if any.
func (e *BaseError) Fields() []FieldError {
	return e.fields
}

// WithDetails adds detailed error information
func (e *BaseError) WithDetails(details string) *BaseError {
	return &BaseError{
		httpCode:  e.httpCode,
		errorCode: e.errorCode,
		message:   e.message,
		details:   details,
		fields:    e.fields,
	}
}

// WithFields attaches per-field validation failures.
func (e *BaseError) WithFields(fields []FieldError) *BaseError {
	return &BaseError{
		httpCode:  e.httpCode,
		errorCode: e.errorCode,
		message:   e.message,
		details:   e.details,
		fields:    fields,
	}
}

// Predefined error types
var (
	ErrGalleryNotFound = NewBaseError(http.StatusNotFound, "GALLERY_NOT_FOUND", "Gallery not found", "")
	ErrImageNotFound   = NewBaseError(http.StatusNotFound, "IMAGE_NOT_FOUND", "Image not found", "")
	ErrVisitorNotFound = NewBaseError(http.StatusNotFound, "VISITOR_NOT_FOUND", "Visitor not found", "")
	ErrNoImages        = NewBaseError(http.StatusNotFound, "GALLERY_EMPTY", "Gallery has no images", "")

	// ErrAuthenticationFailed covers every failure of the gallery password check.
	ErrAuthenticationFailed = NewBaseError(http.StatusUnauthorized, "AUTHENTICATION_FAILED", "Invalid gallery credentials", "")

	ErrMissingToken         = NewBaseError(http.StatusUnauthorized, "UNAUTHORIZED", "Missing access token", "")
	ErrInvalidToken         = NewBaseError(http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token", "")
	ErrTokenGalleryMismatch = NewBaseError(http.StatusUnauthorized, "TOKEN_GALLERY_MISMATCH", "Invalid token for this gallery", "")
	ErrInvalidLogin         = NewBaseError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", "")

	ErrDownloadsDisabled = NewBaseError(http.StatusForbidden, "DOWNLOADS_DISABLED", "Downloads are disabled for this gallery", "")
	ErrForbidden         = NewBaseError(http.StatusForbidden, "FORBIDDEN", "Access denied", "")

	ErrValidationFailed = NewBaseError(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", "")
	ErrUnsupportedMedia = NewBaseError(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Unsupported image type", "")

	ErrSlugConflict = NewBaseError(http.StatusConflict, "SLUG_CONFLICT", "Gallery slug already exists", "")

	ErrTooManyExports = NewBaseError(http.StatusServiceUnavailable, "EXPORT_CAPACITY", "Too many archive downloads in progress, retry shortly", "")

	ErrUpstreamStorage = NewBaseError(http.StatusBadGateway, "UPSTREAM_STORAGE_ERROR", "Storage operation failed", "")
	ErrTimeout         = NewBaseError(http.StatusGatewayTimeout, "TIMEOUT", "Operation did not finish in time", "")
	ErrInternal        = NewBaseError(http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", "")
)

// From maps any error to an AppError. an expired deadline becomes ErrTimeout; other errors
// without an AppError in their chain become ErrInternal so backend error text is never
// surfaced to clients.
func From(err error) AppError {
	if err == nil {
		return nil
	}
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrInternal
}

// Wrap annotates err with a message while keeping its AppError identity reachable.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Storage wraps a blob store failure as ErrUpstreamStorage, keeping the cause for logs.
func Storage(err error, message string) error {
	if err == nil {
		return nil
	}
	return &storageError{cause: errors.Wrap(err, message)}
}

type storageError struct {
	cause error
}

func (e *storageError) Error() string     { return e.cause.Error() }
func (e *storageError) Unwrap() error     { return e.cause }
func (e *storageError) HTTPCode() int     { return ErrUpstreamStorage.HTTPCode() }
func (e *storageError) ErrorCode() string { return ErrUpstreamStorage.ErrorCode() }
func (e *storageError) Message() string   { return ErrUpstreamStorage.Message() }
func (e *storageError) Details() string   { return "" }
func (e *storageError) Is(target error) bool {
	return target == ErrUpstreamStorage
}
