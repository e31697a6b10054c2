package services

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eatlock-app/vision_api/shared"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLimiterAt builds a limiter pinned to a controllable clock. Tests
// advance time by assigning through the returned pointer.
func newLimiterAt(start time.Time) (*RateLimitService, *time.Time) {
	now := start
	svc := &RateLimitService{
		configs:           map[string]*VisionLimitConfig{},
		daily:             map[string]*dailyBucket{},
		bursts:            map[string][]time.Time{},
		cooldowns:         map[string]*failureState{},
		enforce:           true,
		concurrentMax:     3,
		concurrentWindow:  time.Minute,
		cooldownThreshold: 10,
		cooldownWindow:    10 * time.Minute,
		cooldownBlock:     5 * time.Minute,
	}
	svc.now = func() time.Time { return now }
	return svc, &now
}

func burstOnlyConfig(op string, userBurst, ipBurst int) *VisionLimitConfig {
	return &VisionLimitConfig{
		Op:          op,
		UserBurst:   userBurst,
		IPBurst:     ipBurst,
		BurstWindow: time.Minute,
		IsActive:    true,
	}
}

func TestCheckLimits_AllowsWithinBurstWindow(t *testing.T) {
	svc, _ := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc.configs[shared.OpVerifyFood] = burstOnlyConfig(shared.OpVerifyFood, 3, 100)

	for i := 0; i < 3; i++ {
		info, err := svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
		assert.NoError(t, err)
		assert.True(t, info.Allowed)
		assert.Equal(t, 2-i, info.Remaining)
	}
}

func TestCheckLimits_RejectsBurstOverflow(t *testing.T) {
	svc, _ := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc.configs[shared.OpVerifyFood] = burstOnlyConfig(shared.OpVerifyFood, 3, 100)

	for i := 0; i < 3; i++ {
		_, err := svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
		require.NoError(t, err)
	}

	info, err := svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	require.Error(t, err)
	assert.False(t, info.Allowed)
	assert.Equal(t, 0, info.Remaining)

	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, appErr.StatusCode)
	assert.Equal(t, "Too many requests. Please slow down.", appErr.Message)
	assert.Contains(t, appErr.Data, "retry_after")
}

func TestCheckLimits_BurstWindowResets(t *testing.T) {
	svc, now := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc.configs[shared.OpVerifyFood] = burstOnlyConfig(shared.OpVerifyFood, 3, 100)

	for i := 0; i < 3; i++ {
		_, err := svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
		require.NoError(t, err)
	}

	// A rejected call must not occupy a slot or push the reset out.
	*now = now.Add(time.Second)
	_, err := svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	require.Error(t, err)

	*now = now.Add(60 * time.Second)
	info, err := svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	assert.NoError(t, err)
	assert.True(t, info.Allowed)
}

func TestCheckLimits_IPBurstSharedAcrossUsers(t *testing.T) {
	svc, _ := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc.configs[shared.OpVerifyFood] = burstOnlyConfig(shared.OpVerifyFood, 100, 2)

	_, err := svc.CheckLimits("user-a", "10.0.0.9", shared.OpVerifyFood)
	require.NoError(t, err)
	_, err = svc.CheckLimits("user-b", "10.0.0.9", shared.OpVerifyFood)
	require.NoError(t, err)

	_, err = svc.CheckLimits("user-c", "10.0.0.9", shared.OpVerifyFood)
	require.Error(t, err)
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, "Too many requests from this address. Please slow down.", appErr.Message)

	// A different address is unaffected.
	_, err = svc.CheckLimits("user-c", "10.0.0.10", shared.OpVerifyFood)
	assert.NoError(t, err)
}

func TestCheckLimits_DailyLimitExhaustsAndRolls(t *testing.T) {
	svc, now := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc.configs[shared.OpVerifyFood] = &VisionLimitConfig{
		Op:          shared.OpVerifyFood,
		DailyLimit:  2,
		UserBurst:   100,
		IPBurst:     100,
		BurstWindow: time.Minute,
		IsActive:    true,
	}

	info, err := svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Remaining)
	assert.Equal(t, 2, info.Limit)

	info, err = svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Remaining)

	info, err = svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	require.Error(t, err)
	assert.False(t, info.Allowed)
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, appErr.StatusCode)
	assert.Equal(t, "Daily limit reached. Try again tomorrow.", appErr.Message)
	require.NotNil(t, info.ResetTime)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), info.ResetTime.UTC())

	// Another user still has budget.
	_, err = svc.CheckLimits("user456", "10.0.0.1", shared.OpVerifyFood)
	assert.NoError(t, err)

	// The next UTC day starts a fresh bucket.
	*now = now.Add(24 * time.Hour)
	info, err = svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	assert.NoError(t, err)
	assert.True(t, info.Allowed)
}

func TestCheckLimits_DisableDailySkipsOnlyDaily(t *testing.T) {
	svc, _ := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc.disableDaily = true
	svc.configs[shared.OpVerifyFood] = &VisionLimitConfig{
		Op:          shared.OpVerifyFood,
		DailyLimit:  1,
		UserBurst:   2,
		IPBurst:     100,
		BurstWindow: time.Minute,
		IsActive:    true,
	}

	for i := 0; i < 2; i++ {
		_, err := svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
		require.NoError(t, err)
	}

	// Daily would have stopped the second call; the burst layer still
	// stops the third.
	_, err := svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	require.Error(t, err)
	appErr, _ := shared.GetAppError(err)
	assert.Equal(t, "Too many requests. Please slow down.", appErr.Message)
}

func TestCheckLimits_ConcurrencyCap(t *testing.T) {
	svc, now := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := burstOnlyConfig(shared.OpVerifyFood, 100, 100)
	cfg.CountsConcurrent = true
	svc.configs[shared.OpVerifyFood] = cfg

	for i := 0; i < 3; i++ {
		_, err := svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
		require.NoError(t, err)
	}

	_, err := svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	require.Error(t, err)
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, "Too many scans in flight. Give it a few seconds.", appErr.Message)

	*now = now.Add(61 * time.Second)
	_, err = svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	assert.NoError(t, err)
}

func TestCheckLimits_ConcurrencySharedAcrossOperations(t *testing.T) {
	svc, _ := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	verifyCfg := burstOnlyConfig(shared.OpVerifyFood, 100, 100)
	verifyCfg.CountsConcurrent = true
	compareCfg := burstOnlyConfig(shared.OpCompareMeal, 100, 100)
	compareCfg.CountsConcurrent = true
	svc.configs[shared.OpVerifyFood] = verifyCfg
	svc.configs[shared.OpCompareMeal] = compareCfg

	_, err := svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	require.NoError(t, err)
	_, err = svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	require.NoError(t, err)
	_, err = svc.CheckLimits("user123", "10.0.0.1", shared.OpCompareMeal)
	require.NoError(t, err)

	// Three vision ops in flight, regardless of kind; the fourth waits.
	_, err = svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	require.Error(t, err)
	appErr, _ := shared.GetAppError(err)
	assert.Equal(t, "Too many scans in flight. Give it a few seconds.", appErr.Message)
}

func TestRecordFailedScan_EngagesCooldownAtThreshold(t *testing.T) {
	svc, now := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc.configs[shared.OpVerifyFood] = &VisionLimitConfig{
		Op:          shared.OpVerifyFood,
		DailyLimit:  100,
		UserBurst:   100,
		IPBurst:     100,
		BurstWindow: time.Minute,
		IsActive:    true,
	}

	for i := 0; i < 9; i++ {
		svc.RecordFailedScan("user123")
		*now = now.Add(30 * time.Second)
	}
	assert.False(t, svc.InCooldown("user123"))

	svc.RecordFailedScan("user123")
	assert.True(t, svc.InCooldown("user123"))

	// The penalty box ignores remaining daily quota.
	info, err := svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	require.Error(t, err)
	assert.False(t, info.Allowed)
	require.NotNil(t, info.BlockedUntil)
	appErr, ok := shared.GetAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, appErr.StatusCode)
	assert.Equal(t, "Too many failed scans. Please wait before trying again.", appErr.Message)
	assert.Contains(t, appErr.Data, "blocked_until")

	// Everyone else is unaffected.
	_, err = svc.CheckLimits("user456", "10.0.0.1", shared.OpVerifyFood)
	assert.NoError(t, err)

	*now = now.Add(5*time.Minute + time.Second)
	assert.False(t, svc.InCooldown("user123"))
	_, err = svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	assert.NoError(t, err)
}

func TestRecordFailedScan_OldFailuresFallOutOfWindow(t *testing.T) {
	svc, now := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 9; i++ {
		svc.RecordFailedScan("user123")
	}

	*now = now.Add(10*time.Minute + time.Second)
	svc.RecordFailedScan("user123")

	assert.False(t, svc.InCooldown("user123"))
}

func TestCheckLimits_EnforceDisabledAllowsEverything(t *testing.T) {
	svc, _ := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc.enforce = false
	svc.configs[shared.OpVerifyFood] = burstOnlyConfig(shared.OpVerifyFood, 1, 1)

	for i := 0; i < 5; i++ {
		info, err := svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
		assert.NoError(t, err)
		assert.True(t, info.Allowed)
		assert.Equal(t, -1, info.Remaining)
	}
}

func TestCheckLimits_UnknownOperationAllowed(t *testing.T) {
	svc, _ := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	info, err := svc.CheckLimits("user123", "10.0.0.1", "mystery_op")
	assert.NoError(t, err)
	assert.True(t, info.Allowed)
}

func TestCleanupOldRecords_EvictsStaleState(t *testing.T) {
	svc, now := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	svc.daily["verify_food:daily:user123"] = &dailyBucket{day: "2026-02-28", count: 5}
	svc.bursts["verify_food:user:user123"] = []time.Time{now.Add(-2 * time.Hour)}
	svc.cooldowns["user123"] = &failureState{
		failures:     []time.Time{now.Add(-time.Hour)},
		blockedUntil: now.Add(-30 * time.Minute),
	}

	svc.CleanupOldRecords()

	assert.Empty(t, svc.daily)
	assert.Empty(t, svc.bursts)
	assert.Empty(t, svc.cooldowns)
}

func TestCleanupOldRecords_KeepsLiveState(t *testing.T) {
	svc, now := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	svc.daily["verify_food:daily:user123"] = &dailyBucket{day: "2026-03-01", count: 5}
	svc.bursts["verify_food:user:user123"] = []time.Time{now.Add(-10 * time.Second)}
	svc.cooldowns["user123"] = &failureState{blockedUntil: now.Add(2 * time.Minute)}

	svc.CleanupOldRecords()

	assert.Len(t, svc.daily, 1)
	assert.Len(t, svc.bursts, 1)
	assert.Len(t, svc.cooldowns, 1)
}

func TestIPRateLimit_MiddlewareCeiling(t *testing.T) {
	svc, _ := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if appErr, ok := shared.GetAppError(err); ok {
				return shared.ResponseError(c, appErr.StatusCode, appErr.Message, appErr.Data)
			}
			return shared.ResponseInternalError(c)
		},
	})
	app.Use(svc.IPRateLimit(2, time.Minute))
	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for i := 0; i < 2; i++ {
		resp, err := app.Test(newRequestFromIP("203.0.113.5"))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	resp, err := app.Test(newRequestFromIP("203.0.113.5"))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get(shared.HeaderRateLimitRemaining))

	// A different address has its own window.
	resp, err = app.Test(newRequestFromIP("203.0.113.99"))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func newRequestFromIP(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Forwarded-For", ip)
	return req
}

func TestEnvLimit_ParsesOverride(t *testing.T) {
	t.Setenv("TEST_LIMIT_VALUE", "42")
	assert.Equal(t, 42, envLimit("TEST_LIMIT_VALUE", 10))

	t.Setenv("TEST_LIMIT_VALUE", "not-a-number")
	assert.Equal(t, 10, envLimit("TEST_LIMIT_VALUE", 10))

	assert.Equal(t, 7, envLimit(fmt.Sprintf("UNSET_%d", time.Now().UnixNano()), 7))
}

func TestGetRateLimitStats_ReportsLiveState(t *testing.T) {
	svc, _ := newLimiterAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc.configs[shared.OpVerifyFood] = burstOnlyConfig(shared.OpVerifyFood, 5, 100)

	_, err := svc.CheckLimits("user123", "10.0.0.1", shared.OpVerifyFood)
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/internal/rate-limits", svc.GetRateLimitStats())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/internal/rate-limits", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, true, stats["enforcing"])
	assert.EqualValues(t, 2, stats["burst_windows"]) // one user window, one ip window
	assert.EqualValues(t, 0, stats["active_cooldowns"])
	assert.Contains(t, stats["configs"], shared.OpVerifyFood)
}
