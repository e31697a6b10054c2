package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/eatlock-app/vision_api/dto"
	"github.com/eatlock-app/vision_api/model"
	"github.com/eatlock-app/vision_api/shared"
)

// ==================== SERVICE STUBS ====================

type stubAuthService struct {
	ownershipErr error
	checkedKeys  []string
	bypass       bool
	bypassCalls  int
	session      *dto.AnonymousSession
	sessionErr   error
}

func (s *stubAuthService) RequiredAuth() fiber.Handler {
	return func(c *fiber.Ctx) error { return c.Next() }
}

func (s *stubAuthService) CheckKeyOwnership(userID, key string) error {
	s.checkedKeys = append(s.checkedKeys, key)
	return s.ownershipErr
}

func (s *stubAuthService) IsDevBypass(c *fiber.Ctx, userID string) bool {
	s.bypassCalls++
	return s.bypass
}

func (s *stubAuthService) IssueAnonymousSession(ctx context.Context) (*dto.AnonymousSession, error) {
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	return s.session, nil
}

type stubRateLimitService struct {
	info         *dto.RateLimitInfo
	err          error
	lastOp       string
	checks       int
	failedScans  []string
	notEnforcing bool
}

func (s *stubRateLimitService) CheckLimits(userID, ip, op string) (*dto.RateLimitInfo, error) {
	s.lastOp = op
	s.checks++
	return s.info, s.err
}

func (s *stubRateLimitService) Enforcing() bool {
	return !s.notEnforcing
}

func (s *stubRateLimitService) RecordFailedScan(userID string) {
	s.failedScans = append(s.failedScans, userID)
}

func (s *stubRateLimitService) AddRateLimitHeaders(c *fiber.Ctx, info *dto.RateLimitInfo) {
	if info == nil {
		return
	}
	c.Set(shared.HeaderRateLimitLimit, strconv.Itoa(info.Limit))
	c.Set(shared.HeaderRateLimitRemaining, strconv.Itoa(info.Remaining))
}

type stubStorageService struct {
	mu       sync.Mutex
	fetchErr error
	fetched  []string
	deleted  []string
}

func (s *stubStorageService) FetchImage(ctx context.Context, key string) (*dto.ImageData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	s.fetched = append(s.fetched, key)
	return &dto.ImageData{
		Key:         key,
		ContentType: "image/jpeg",
		Size:        2048,
		DataURL:     "data:image/jpeg;base64,/9j/dGVzdA==",
	}, nil
}

func (s *stubStorageService) FetchImagePair(ctx context.Context, keyA, keyB string) (*dto.ImageData, *dto.ImageData, error) {
	a, err := s.FetchImage(ctx, keyA)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.FetchImage(ctx, keyB)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func (s *stubStorageService) DeleteImages(ctx context.Context, keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, keys...)
}

func (s *stubStorageService) fetchedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetched...)
}

func (s *stubStorageService) deletedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

type stubVisionService struct {
	foodResult    *dto.FoodCheckResult
	compareResult *dto.MealComparisonResult
	estimate      *dto.NutritionEstimate
	err           error
	calls         int
}

func (s *stubVisionService) VerifyFood(ctx context.Context, img *dto.ImageData) (*dto.FoodCheckResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.foodResult, nil
}

func (s *stubVisionService) CompareMeal(ctx context.Context, before, after *dto.ImageData) (*dto.MealComparisonResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.compareResult, nil
}

func (s *stubVisionService) EstimateNutrition(ctx context.Context, img *dto.ImageData) (*dto.NutritionEstimate, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.estimate, nil
}

type stubQueueService struct {
	job        *model.VisionJob
	enqueueErr error
	status     *dto.VisionJobStatusResponse
	statusErr  error
	enqueued   []*dto.EnqueueVisionJobRequest
}

func (s *stubQueueService) EnqueueVisionJob(ctx context.Context, userID string, req *dto.EnqueueVisionJobRequest) (*model.VisionJob, error) {
	s.enqueued = append(s.enqueued, req)
	if s.enqueueErr != nil {
		return nil, s.enqueueErr
	}
	return s.job, nil
}

func (s *stubQueueService) GetVisionJobStatus(jobID, userID string) (*dto.VisionJobStatusResponse, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return s.status, nil
}

type stubQuotaService struct {
	info      *dto.RateLimitInfo
	err       error
	calls     int
	lastName  string
	lastLimit int
}

func (s *stubQuotaService) ConsumeDailyQuota(ctx context.Context, name, userID string, limit int) (*dto.RateLimitInfo, error) {
	s.calls++
	s.lastName = name
	s.lastLimit = limit
	return s.info, s.err
}

type stubBarcodeService struct {
	product *dto.ProductInfo
	err     error
}

func (s *stubBarcodeService) Lookup(ctx context.Context, barcode string) (*dto.ProductInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.product, nil
}

// ==================== TEST HARNESS ====================

func allowInfo(limit, remaining int) *dto.RateLimitInfo {
	return &dto.RateLimitInfo{Allowed: true, Limit: limit, Remaining: remaining}
}

// newHandlerApp mirrors the production error boundary and auth
// middleware so handler tests exercise real envelopes.
func newHandlerApp(register func(app *fiber.App)) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if appErr, ok := shared.GetAppError(err); ok {
				return shared.ResponseError(c, appErr.StatusCode, appErr.Message, appErr.Data)
			}
			if fiberErr, ok := err.(*fiber.Error); ok {
				return shared.ResponseError(c, fiberErr.Code, fiberErr.Message, nil)
			}
			return shared.ResponseInternalError(c)
		},
	})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(shared.UserID, "user123")
		return c.Next()
	})
	register(app)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) *http.Response {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func getPath(t *testing.T, app *fiber.App, path string) *http.Response {
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	return payload
}
