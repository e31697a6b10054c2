package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eatlock-app/vision_api/dto"
	"github.com/eatlock-app/vision_api/model"
	"github.com/eatlock-app/vision_api/shared"
)

func newVisionApp(auth *stubAuthService, rl *stubRateLimitService, storage *stubStorageService, vision *stubVisionService, queue *stubQueueService) *fiber.App {
	h := NewVisionHandler(auth, rl, storage, vision, queue)
	return newHandlerApp(func(app *fiber.App) {
		app.Post("/v1/vision/verify-food", h.VerifyFood)
		app.Post("/v1/vision/compare-meal", h.CompareMeal)
		app.Post("/v1/vision/jobs", h.EnqueueJob)
		app.Get("/v1/vision/jobs/:jobId", h.GetJobStatus)
	})
}

func TestVerifyFood_ReturnsVerdictAndBudgetHeaders(t *testing.T) {
	auth := &stubAuthService{}
	rl := &stubRateLimitService{info: allowInfo(30, 29)}
	storage := &stubStorageService{}
	vision := &stubVisionService{foodResult: &dto.FoodCheckResult{
		Verdict:    shared.VerdictFoodOK,
		Confidence: 0.92,
		Reason:     "plated meal, single dish",
		Signals:    dto.FoodCheckSignals{IsMealPhoto: true, SingleDish: true, LightingOK: true},
	}}
	app := newVisionApp(auth, rl, storage, vision, &stubQueueService{})

	resp := postJSON(t, app, "/v1/vision/verify-food", `{"r2Key":"users/user123/meals/breakfast.jpg"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "29", resp.Header.Get(shared.HeaderRateLimitRemaining))

	payload := decodeJSON(t, resp)
	assert.Equal(t, "FOOD_OK", payload["verdict"])
	assert.EqualValues(t, 0.92, payload["confidence"])

	assert.Equal(t, shared.OpVerifyFood, rl.lastOp)
	assert.Equal(t, []string{"users/user123/meals/breakfast.jpg"}, storage.fetchedKeys())
	assert.Empty(t, rl.failedScans)
}

func TestVerifyFood_NotFoodCountsTowardCooldown(t *testing.T) {
	rl := &stubRateLimitService{info: allowInfo(30, 28)}
	vision := &stubVisionService{foodResult: &dto.FoodCheckResult{
		Verdict:    shared.VerdictNotFood,
		Confidence: 0.97,
		Reason:     "that is a keyboard",
	}}
	app := newVisionApp(&stubAuthService{}, rl, &stubStorageService{}, vision, &stubQueueService{})

	resp := postJSON(t, app, "/v1/vision/verify-food", `{"r2Key":"users/user123/meals/desk.jpg"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"user123"}, rl.failedScans)
}

func TestVerifyFood_RateLimitedBeforeAnyWork(t *testing.T) {
	rl := &stubRateLimitService{
		info: &dto.RateLimitInfo{Allowed: false, Limit: 30, Remaining: 0},
		err: shared.NewRateLimitError(errors.New("burst window full"), "Too many requests. Please slow down.").
			WithData("retry_after", 30),
	}
	storage := &stubStorageService{}
	vision := &stubVisionService{}
	app := newVisionApp(&stubAuthService{}, rl, storage, vision, &stubQueueService{})

	resp := postJSON(t, app, "/v1/vision/verify-food", `{"r2Key":"users/user123/meals/breakfast.jpg"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get(shared.HeaderRateLimitRemaining))

	payload := decodeJSON(t, resp)
	assert.Equal(t, "Too many requests. Please slow down.", payload["error"])
	assert.EqualValues(t, 30, payload["retry_after"])

	assert.Empty(t, storage.fetchedKeys())
	assert.Zero(t, vision.calls)
}

func TestVerifyFood_ForeignKeyForbidden(t *testing.T) {
	auth := &stubAuthService{ownershipErr: shared.NewForbiddenError(nil, "You do not have access to this object")}
	storage := &stubStorageService{}
	app := newVisionApp(auth, &stubRateLimitService{info: allowInfo(30, 29)}, storage, &stubVisionService{}, &stubQueueService{})

	resp := postJSON(t, app, "/v1/vision/verify-food", `{"r2Key":"users/user456/meals/breakfast.jpg"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "You do not have access to this object", decodeJSON(t, resp)["error"])
	assert.Empty(t, storage.fetchedKeys())
}

func TestVerifyFood_UnknownFieldRejected(t *testing.T) {
	app := newVisionApp(&stubAuthService{}, &stubRateLimitService{info: allowInfo(30, 29)}, &stubStorageService{}, &stubVisionService{}, &stubQueueService{})

	resp := postJSON(t, app, "/v1/vision/verify-food", `{"r2Key":"users/user123/meals/a.jpg","bonus":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid request body", decodeJSON(t, resp)["error"])
}

func TestVerifyFood_MissingKeyListsFieldErrors(t *testing.T) {
	app := newVisionApp(&stubAuthService{}, &stubRateLimitService{info: allowInfo(30, 29)}, &stubStorageService{}, &stubVisionService{}, &stubQueueService{})

	resp := postJSON(t, app, "/v1/vision/verify-food", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	payload := decodeJSON(t, resp)
	assert.Equal(t, "Validation failed", payload["error"])

	details, ok := payload["details"].([]interface{})
	require.True(t, ok)
	require.Len(t, details, 1)
	first, ok := details[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "R2Key", first["field"])
}

func TestCompareMeal_AnswersThenDiscardsPhotos(t *testing.T) {
	auth := &stubAuthService{}
	storage := &stubStorageService{}
	vision := &stubVisionService{compareResult: &dto.MealComparisonResult{
		Verdict:       shared.VerdictFinished,
		FinishedScore: 0.93,
		Confidence:    0.88,
		Roast:         "Not a crumb left. Respect.",
		Signals:       dto.MealCompareSignals{SameDish: true, PlateVisible: true},
	}}
	app := newVisionApp(auth, &stubRateLimitService{info: allowInfo(10, 9)}, storage, vision, &stubQueueService{})

	resp := postJSON(t, app, "/v1/vision/compare-meal",
		`{"preKey":"users/user123/meals/lunch-before.jpg","postKey":"users/user123/meals/lunch-after.jpg"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decodeJSON(t, resp)
	assert.Equal(t, "FINISHED", payload["verdict"])
	assert.EqualValues(t, 0.93, payload["finished_score"])

	assert.Equal(t, []string{"users/user123/meals/lunch-before.jpg", "users/user123/meals/lunch-after.jpg"}, auth.checkedKeys)

	// Cleanup runs off the request goroutine.
	assert.Eventually(t, func() bool {
		return len(storage.deletedKeys()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t,
		[]string{"users/user123/meals/lunch-before.jpg", "users/user123/meals/lunch-after.jpg"},
		storage.deletedKeys())
}

func TestCompareMeal_KeepsPhotosWhenInferenceFails(t *testing.T) {
	storage := &stubStorageService{}
	vision := &stubVisionService{err: shared.NewTransientUpstreamError(errors.New("503"), "Vision provider unavailable")}
	app := newVisionApp(&stubAuthService{}, &stubRateLimitService{info: allowInfo(10, 9)}, storage, vision, &stubQueueService{})

	resp := postJSON(t, app, "/v1/vision/compare-meal",
		`{"preKey":"users/user123/meals/lunch-before.jpg","postKey":"users/user123/meals/lunch-after.jpg"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "Vision provider unavailable", decodeJSON(t, resp)["error"])
	assert.Empty(t, storage.deletedKeys())
}

func TestEnqueueJob_EndScanBurnsCompareBudget(t *testing.T) {
	auth := &stubAuthService{}
	rl := &stubRateLimitService{info: allowInfo(10, 9)}
	queue := &stubQueueService{job: &model.VisionJob{ID: "job-0198a4b2", Status: shared.JobStatusQueued}}
	app := newVisionApp(auth, rl, &stubStorageService{}, &stubVisionService{}, queue)

	resp := postJSON(t, app, "/v1/vision/jobs",
		`{"stage":"END_SCAN","r2Keys":{"before":"users/user123/meals/b.jpg","after":"users/user123/meals/a.jpg"}}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	payload := decodeJSON(t, resp)
	assert.Equal(t, "job-0198a4b2", payload["jobId"])
	assert.Equal(t, "queued", payload["status"])

	assert.Equal(t, shared.OpCompareMeal, rl.lastOp)
	assert.ElementsMatch(t, []string{"users/user123/meals/b.jpg", "users/user123/meals/a.jpg"}, auth.checkedKeys)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, shared.StageEndScan, queue.enqueued[0].Stage)
}

func TestEnqueueJob_StartScanBurnsVerifyBudget(t *testing.T) {
	rl := &stubRateLimitService{info: allowInfo(30, 29)}
	queue := &stubQueueService{job: &model.VisionJob{ID: "job-1", Status: shared.JobStatusQueued}}
	app := newVisionApp(&stubAuthService{}, rl, &stubStorageService{}, &stubVisionService{}, queue)

	resp := postJSON(t, app, "/v1/vision/jobs",
		`{"stage":"START_SCAN","r2Keys":{"photo":"users/user123/meals/breakfast.jpg"}}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, shared.OpVerifyFood, rl.lastOp)
}

func TestEnqueueJob_BadStageNeverTouchesLimiter(t *testing.T) {
	rl := &stubRateLimitService{info: allowInfo(30, 29)}
	app := newVisionApp(&stubAuthService{}, rl, &stubStorageService{}, &stubVisionService{}, &stubQueueService{})

	resp := postJSON(t, app, "/v1/vision/jobs",
		`{"stage":"MID_SCAN","r2Keys":{"photo":"users/user123/meals/a.jpg"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Validation failed", decodeJSON(t, resp)["error"])
	assert.Zero(t, rl.checks)
}

func TestGetJobStatus_ReturnsStoredResult(t *testing.T) {
	queue := &stubQueueService{status: &dto.VisionJobStatusResponse{
		JobID:     "job-1",
		Status:    shared.JobStatusDone,
		Stage:     shared.StageStartScan,
		Attempts:  1,
		Result:    json.RawMessage(`{"verdict":"FOOD_OK","confidence":0.91}`),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}}
	app := newVisionApp(&stubAuthService{}, &stubRateLimitService{}, &stubStorageService{}, &stubVisionService{}, queue)

	resp := getPath(t, app, "/v1/vision/jobs/job-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decodeJSON(t, resp)
	assert.Equal(t, "done", payload["status"])
	result, ok := payload["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "FOOD_OK", result["verdict"])
}

func TestGetJobStatus_UnknownJob(t *testing.T) {
	queue := &stubQueueService{statusErr: shared.NewNotFoundError(nil, "Job not found")}
	app := newVisionApp(&stubAuthService{}, &stubRateLimitService{}, &stubStorageService{}, &stubVisionService{}, queue)

	resp := getPath(t, app, "/v1/vision/jobs/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Job not found", decodeJSON(t, resp)["error"])
}
