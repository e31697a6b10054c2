package services

import (
	"errors"
	"testing"
	"time"

	"github.com/eatlock-app/vision_api/dto"
	"github.com/eatlock-app/vision_api/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageKeys_StartScan(t *testing.T) {
	keys, err := stageKeys(shared.StageStartScan, map[string]string{"photo": "users/u1/meal.jpg"})
	require.NoError(t, err)
	assert.Equal(t, []string{"users/u1/meal.jpg"}, keys)
}

func TestStageKeys_StartScanSoleKeyFallback(t *testing.T) {
	// The photo role is preferred, but a single key under any role works.
	keys, err := stageKeys(shared.StageStartScan, map[string]string{"image": "users/u1/meal.jpg"})
	require.NoError(t, err)
	assert.Equal(t, []string{"users/u1/meal.jpg"}, keys)
}

func TestStageKeys_StartScanAmbiguousKeysRejected(t *testing.T) {
	_, err := stageKeys(shared.StageStartScan, map[string]string{
		"first":  "users/u1/a.jpg",
		"second": "users/u1/b.jpg",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a photo key")
}

func TestStageKeys_EndScan(t *testing.T) {
	keys, err := stageKeys(shared.StageEndScan, map[string]string{
		"before": "users/u1/pre.jpg",
		"after":  "users/u1/post.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"users/u1/pre.jpg", "users/u1/post.jpg"}, keys)
}

func TestStageKeys_EndScanMissingRoleRejected(t *testing.T) {
	_, err := stageKeys(shared.StageEndScan, map[string]string{"before": "users/u1/pre.jpg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires before and after")
}

func TestStageKeys_EmptyAndUnknown(t *testing.T) {
	_, err := stageKeys(shared.StageStartScan, map[string]string{})
	assert.Error(t, err)

	_, err = stageKeys("MID_SCAN", map[string]string{"photo": "users/u1/meal.jpg"})
	assert.Error(t, err)
}

func TestIsTransientError_TypedClassification(t *testing.T) {
	assert.True(t, isTransientError(shared.NewTransientUpstreamError(nil, "Vision provider unavailable")))
	assert.False(t, isTransientError(shared.NewUpstreamError(nil, "Vision request rejected")))
	assert.False(t, isTransientError(shared.NewBadRequestError(nil, "Validation failed")))
	assert.False(t, isTransientError(shared.NewUnsupportedMediaError(nil, "Unsupported image format")))
	assert.False(t, isTransientError(shared.NewPayloadTooLargeError(nil, "Image too large")))
}

func TestIsTransientError_MissingObjectIsRetried(t *testing.T) {
	// An upload can land moments after its job was enqueued.
	assert.True(t, isTransientError(shared.NewNotFoundError(nil, "Image not found")))
}

func TestIsTransientError_SignatureFallbackForUntypedErrors(t *testing.T) {
	assert.True(t, isTransientError(errors.New("dial tcp 10.0.0.1:443: connection refused")))
	assert.True(t, isTransientError(errors.New("request timed out")))
	assert.True(t, isTransientError(errors.New("unexpected EOF")))
	assert.True(t, isTransientError(errors.New("upstream said 503 Service Unavailable")))
	assert.False(t, isTransientError(errors.New("invalid verdict in payload")))
}

func TestIsTransientError_TypedErrorsNeverFallThroughToSignatures(t *testing.T) {
	// A non-retryable typed error stays terminal even when its message
	// smells transient.
	err := shared.NewUpstreamError(errors.New("timeout reading schema"), "Vision request rejected")
	assert.False(t, isTransientError(err))
}

func TestRetryBackoff_DoublesAndCaps(t *testing.T) {
	svc := &VisionQueueService{maxBackoff: 30 * time.Second}

	assert.Equal(t, 2*time.Second, svc.retryBackoff(1))
	assert.Equal(t, 4*time.Second, svc.retryBackoff(2))
	assert.Equal(t, 8*time.Second, svc.retryBackoff(3))
	assert.Equal(t, 16*time.Second, svc.retryBackoff(4))
	assert.Equal(t, 30*time.Second, svc.retryBackoff(5))
	assert.Equal(t, 30*time.Second, svc.retryBackoff(6))
}

func TestStageResult_ToModel(t *testing.T) {
	score := 0.4
	result := &stageResult{
		verdict:       shared.VerdictNotFinished,
		confidence:    0.8,
		finishedScore: &score,
		payload:       []byte(`{"verdict":"NOT_FINISHED"}`),
	}

	row := result.toModel(&dto.VisionJobMessage{
		JobID:  "job-1",
		UserID: "user123",
		Stage:  shared.StageEndScan,
	})

	assert.Equal(t, "job-1", row.JobID)
	assert.Equal(t, "user123", row.UserID)
	assert.Equal(t, shared.StageEndScan, row.Stage)
	assert.Equal(t, shared.VerdictNotFinished, row.Verdict)
	require.NotNil(t, row.FinishedScore)
	assert.InDelta(t, 0.4, *row.FinishedScore, 0.001)
}
