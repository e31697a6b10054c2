package shared

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorIncludesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewInternalError(cause, "Storage unavailable")
	assert.Equal(t, "Storage unavailable: dial tcp: connection refused", err.Error())

	bare := NewBadRequestError(nil, "Invalid request body")
	assert.Equal(t, "Invalid request body", bare.Error())
}

func TestAppError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := NewUpstreamError(cause, "Vision request rejected")
	assert.True(t, errors.Is(err, cause))
}

func TestAppError_WithDataChains(t *testing.T) {
	err := NewRateLimitError(nil, "Too many requests. Please slow down.").
		WithData("retry_after", 42).
		WithData("reset_time", "2026-03-01T00:00:00Z")

	assert.Equal(t, 42, err.Data["retry_after"])
	assert.Equal(t, "2026-03-01T00:00:00Z", err.Data["reset_time"])
}

func TestGetAppError_SeesThroughWrapping(t *testing.T) {
	inner := NewNotFoundError(nil, "Image not found")
	wrapped := fmt.Errorf("fetching pair: %w", inner)

	appErr, ok := GetAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, appErr.StatusCode)
	assert.Equal(t, "Image not found", appErr.Message)

	_, ok = GetAppError(errors.New("plain"))
	assert.False(t, ok)
}

func TestStatusCodesPerConstructor(t *testing.T) {
	cases := []struct {
		err  *AppError
		want int
	}{
		{NewBadRequestError(nil, ""), http.StatusBadRequest},
		{NewUnauthorizedError(nil, ""), http.StatusUnauthorized},
		{NewForbiddenError(nil, ""), http.StatusForbidden},
		{NewNotFoundError(nil, ""), http.StatusNotFound},
		{NewPayloadTooLargeError(nil, ""), http.StatusRequestEntityTooLarge},
		{NewUnsupportedMediaError(nil, ""), http.StatusUnsupportedMediaType},
		{NewRateLimitError(nil, ""), http.StatusTooManyRequests},
		{NewInternalError(nil, ""), http.StatusInternalServerError},
		{NewUpstreamError(nil, ""), http.StatusBadGateway},
		{NewTransientUpstreamError(nil, ""), http.StatusBadGateway},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.err.StatusCode)
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewTransientUpstreamError(errors.New("503"), "Vision provider unavailable")))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", NewTransientUpstreamError(nil, "x"))))

	assert.False(t, IsRetryable(NewUpstreamError(errors.New("400"), "Vision request rejected")))
	assert.False(t, IsRetryable(NewInternalError(nil, "x")))
	assert.False(t, IsRetryable(errors.New("timeout"))) // untyped stays non-retryable here
	assert.False(t, IsRetryable(nil))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", Excerpt([]byte("short"), 10))
	assert.Equal(t, "exact", Excerpt([]byte("exact"), 5))
	assert.Equal(t, "abcde...", Excerpt([]byte("abcdefgh"), 5))
	assert.Equal(t, "", Excerpt(nil, 5))
}
