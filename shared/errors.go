package shared

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError carries the HTTP status and wire message for a failure, plus
// whether a queue consumer may retry the operation that produced it.
// Retryability is decided where the error is constructed, not by
// inspecting message text downstream.
type AppError struct {
	StatusCode int
	Message    string
	Data       map[string]interface{}
	Retryable  bool
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithData attaches an extra field to the error envelope.
func (e *AppError) WithData(key string, value interface{}) *AppError {
	if e.Data == nil {
		e.Data = map[string]interface{}{}
	}
	e.Data[key] = value
	return e
}

func newAppError(status int, err error, message string) *AppError {
	return &AppError{
		StatusCode: status,
		Message:    message,
		Err:        err,
	}
}

func NewBadRequestError(err error, message string) *AppError {
	return newAppError(http.StatusBadRequest, err, message)
}

func NewUnauthorizedError(err error, message string) *AppError {
	return newAppError(http.StatusUnauthorized, err, message)
}

func NewForbiddenError(err error, message string) *AppError {
	return newAppError(http.StatusForbidden, err, message)
}

func NewNotFoundError(err error, message string) *AppError {
	return newAppError(http.StatusNotFound, err, message)
}

func NewPayloadTooLargeError(err error, message string) *AppError {
	return newAppError(http.StatusRequestEntityTooLarge, err, message)
}

func NewUnsupportedMediaError(err error, message string) *AppError {
	return newAppError(http.StatusUnsupportedMediaType, err, message)
}

func NewRateLimitError(err error, message string) *AppError {
	return newAppError(http.StatusTooManyRequests, err, message)
}

func NewInternalError(err error, message string) *AppError {
	return newAppError(http.StatusInternalServerError, err, message)
}

// NewUpstreamError marks a dependency failure that will not recover on
// its own (malformed response, 4xx other than 429).
func NewUpstreamError(err error, message string) *AppError {
	return newAppError(http.StatusBadGateway, err, message)
}

// NewTransientUpstreamError marks a dependency failure worth retrying
// (5xx, 429, timeouts, broken connections).
func NewTransientUpstreamError(err error, message string) *AppError {
	appErr := newAppError(http.StatusBadGateway, err, message)
	appErr.Retryable = true
	return appErr
}

func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsRetryable reports whether err was stamped retryable at construction.
// Unclassified errors are not retryable.
func IsRetryable(err error) bool {
	if appErr, ok := GetAppError(err); ok {
		return appErr.Retryable
	}
	return false
}

// Excerpt bounds an upstream response body for logs and error messages.
func Excerpt(body []byte, max int) string {
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
