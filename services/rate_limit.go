package services

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/eatlock-app/vision_api/dto"
	"github.com/eatlock-app/vision_api/shared"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// RateLimitService stacks four in-process abuse checks in front of the
// vision pipeline: a per-user daily quota, sliding burst windows per
// user and per IP, a cap on operations in flight, and a cooldown for
// users whose scans keep coming back as not food. State lives in
// memory; a restart forgives everything except the durable nutrition
// quota, which RedisService owns.
type RateLimitService struct {
	context.DefaultService

	configs map[string]*VisionLimitConfig
	mutex   sync.Mutex

	daily     map[string]*dailyBucket
	bursts    map[string][]time.Time
	cooldowns map[string]*failureState

	enforce      bool
	disableDaily bool

	concurrentMax    int
	concurrentWindow time.Duration

	cooldownThreshold int
	cooldownWindow    time.Duration
	cooldownBlock     time.Duration

	monitoringSvc *MonitoringService

	now func() time.Time
}

// VisionLimitConfig represents the limiter layers for one operation
type VisionLimitConfig struct {
	Op               string
	DailyLimit       int // 0 disables the in-process daily layer
	UserBurst        int
	IPBurst          int
	BurstWindow      time.Duration
	CountsConcurrent bool
	Description      string
	IsActive         bool
}

type dailyBucket struct {
	day   string
	count int
}

type failureState struct {
	failures     []time.Time
	blockedUntil time.Time
}

const RATE_LIMIT_SVC = "rate_limit_svc"

func (svc RateLimitService) Id() string {
	return RATE_LIMIT_SVC
}

func (svc *RateLimitService) Configure(ctx *context.Context) error {
	svc.configs = make(map[string]*VisionLimitConfig)
	svc.daily = make(map[string]*dailyBucket)
	svc.bursts = make(map[string][]time.Time)
	svc.cooldowns = make(map[string]*failureState)
	svc.now = time.Now

	// The master switch defaults off: internal environments run without
	// any quota or rate logic unless ENFORCE_LIMITS is set.
	svc.enforce = os.Getenv("ENFORCE_LIMITS") == "true"
	svc.disableDaily = os.Getenv("DISABLE_DAILY_LIMITS") == "true"

	svc.concurrentMax = 3
	svc.concurrentWindow = time.Minute

	svc.cooldownThreshold = 10
	svc.cooldownWindow = 10 * time.Minute
	svc.cooldownBlock = 5 * time.Minute

	return svc.DefaultService.Configure(ctx)
}

func (svc *RateLimitService) Start() error {
	svc.monitoringSvc = svc.Service(MONITORING_SVC).(*MonitoringService)
	svc.initDefaultConfigs()

	// Start background cleanup job
	go svc.startCleanupJob()

	return nil
}

// ==================== CONFIGURATION MANAGEMENT ====================

func (svc *RateLimitService) initDefaultConfigs() {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	svc.configs = map[string]*VisionLimitConfig{
		shared.OpVerifyFood: {
			Op:               shared.OpVerifyFood,
			DailyLimit:       envLimit("DAILY_VERIFY_LIMIT", 30),
			UserBurst:        8,
			IPBurst:          16,
			BurstWindow:      time.Minute,
			CountsConcurrent: true,
			Description:      "Pre-meal food verification limits",
			IsActive:         true,
		},
		shared.OpCompareMeal: {
			Op:               shared.OpCompareMeal,
			DailyLimit:       envLimit("DAILY_COMPARE_LIMIT", 10),
			UserBurst:        6,
			IPBurst:          12,
			BurstWindow:      time.Minute,
			CountsConcurrent: true,
			Description:      "Before/after meal comparison limits",
			IsActive:         true,
		},
		shared.OpEstimateNutrition: {
			Op: shared.OpEstimateNutrition,
			// Daily quota for nutrition is durable and lives in Redis
			DailyLimit:       0,
			UserBurst:        6,
			IPBurst:          12,
			BurstWindow:      time.Minute,
			CountsConcurrent: true,
			Description:      "Calorie estimation burst limits",
			IsActive:         true,
		},
		shared.OpBarcodeLookup: {
			Op:               shared.OpBarcodeLookup,
			DailyLimit:       0,
			UserBurst:        30,
			IPBurst:          60,
			BurstWindow:      time.Minute,
			CountsConcurrent: false,
			Description:      "Barcode lookup burst limits",
			IsActive:         true,
		},
	}
}

func envLimit(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("Invalid %s value %q, using default %d", name, v, fallback)
	}
	return fallback
}

// ==================== CORE RATE LIMITING LOGIC ====================

// CheckLimits runs every layer configured for the operation and
// reserves a slot in each. The returned info describes the tightest
// layer so callers can emit X-RateLimit headers; a non-nil error is the
// 429 to send back.
func (svc *RateLimitService) CheckLimits(userID, ip, op string) (*dto.RateLimitInfo, error) {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	config, exists := svc.configs[op]
	if !exists || !config.IsActive || !svc.enforce {
		return &dto.RateLimitInfo{Allowed: true, Remaining: -1}, nil
	}

	now := svc.now()

	// Cooldown outranks everything: a user in the penalty box stays
	// there until the timestamp passes, regardless of new successes.
	if state, ok := svc.cooldowns[userID]; ok && now.Before(state.blockedUntil) {
		blocked := state.blockedUntil
		info := &dto.RateLimitInfo{
			Allowed:      false,
			Limit:        config.DailyLimit,
			Remaining:    0,
			ResetTime:    &blocked,
			BlockedUntil: &blocked,
		}
		svc.reject(op, "cooldown")
		return info, rateLimitError("Too many failed scans. Please wait before trying again.", info, now)
	}

	if config.DailyLimit > 0 && !svc.disableDaily {
		dailyInfo := svc.consumeDaily(op, userID, config.DailyLimit, now)
		if !dailyInfo.Allowed {
			svc.reject(op, "daily")
			return dailyInfo, rateLimitError("Daily limit reached. Try again tomorrow.", dailyInfo, now)
		}

		burstInfo, err := svc.checkBursts(config, userID, ip, now)
		if err != nil {
			return burstInfo, err
		}

		// headers reflect the scarcer budget
		if dailyInfo.Remaining <= burstInfo.Remaining {
			return dailyInfo, nil
		}
		return burstInfo, nil
	}

	return svc.checkBursts(config, userID, ip, now)
}

func (svc *RateLimitService) checkBursts(config *VisionLimitConfig, userID, ip string, now time.Time) (*dto.RateLimitInfo, error) {
	userKey := fmt.Sprintf("%s:user:%s", config.Op, userID)
	if info := svc.slide(userKey, config.UserBurst, config.BurstWindow, now); !info.Allowed {
		svc.reject(config.Op, "burst_user")
		return info, rateLimitError("Too many requests. Please slow down.", info, now)
	}

	ipKey := fmt.Sprintf("%s:ip:%s", config.Op, ip)
	if info := svc.slide(ipKey, config.IPBurst, config.BurstWindow, now); !info.Allowed {
		svc.reject(config.Op, "burst_ip")
		return info, rateLimitError("Too many requests from this address. Please slow down.", info, now)
	}

	if config.CountsConcurrent {
		concurrentKey := fmt.Sprintf("vision:active:%s", userID)
		if info := svc.slide(concurrentKey, svc.concurrentMax, svc.concurrentWindow, now); !info.Allowed {
			svc.reject(config.Op, "concurrent")
			return info, rateLimitError("Too many scans in flight. Give it a few seconds.", info, now)
		}
	}

	userInfo := svc.peek(userKey, config.UserBurst, config.BurstWindow, now)
	return userInfo, nil
}

// consumeDaily counts the request against the user's fixed UTC-day
// window and reports whether it fit.
func (svc *RateLimitService) consumeDaily(op, userID string, limit int, now time.Time) *dto.RateLimitInfo {
	key := fmt.Sprintf("%s:daily:%s", op, userID)
	today := now.UTC().Format("2006-01-02")

	bucket, ok := svc.daily[key]
	if !ok || bucket.day != today {
		bucket = &dailyBucket{day: today}
		svc.daily[key] = bucket
	}

	reset := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)

	if bucket.count >= limit {
		return &dto.RateLimitInfo{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			ResetTime: &reset,
		}
	}

	bucket.count++
	return &dto.RateLimitInfo{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - bucket.count,
		ResetTime: &reset,
	}
}

// slide admits the request into a sliding window if a slot is free.
// Rejected requests do not occupy slots, so hammering a full window
// never pushes the reset further out.
func (svc *RateLimitService) slide(key string, limit int, window time.Duration, now time.Time) *dto.RateLimitInfo {
	hits := pruneWindow(svc.bursts[key], window, now)

	if len(hits) >= limit {
		reset := hits[0].Add(window)
		svc.bursts[key] = hits
		return &dto.RateLimitInfo{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			ResetTime: &reset,
		}
	}

	hits = append(hits, now)
	svc.bursts[key] = hits

	reset := hits[0].Add(window)
	return &dto.RateLimitInfo{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(hits),
		ResetTime: &reset,
	}
}

// peek reads a window's occupancy without reserving a slot.
func (svc *RateLimitService) peek(key string, limit int, window time.Duration, now time.Time) *dto.RateLimitInfo {
	hits := pruneWindow(svc.bursts[key], window, now)
	svc.bursts[key] = hits

	remaining := limit - len(hits)
	if remaining < 0 {
		remaining = 0
	}

	info := &dto.RateLimitInfo{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
	}
	if len(hits) > 0 {
		reset := hits[0].Add(window)
		info.ResetTime = &reset
	}
	return info
}

func pruneWindow(hits []time.Time, window time.Duration, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func rateLimitError(message string, info *dto.RateLimitInfo, now time.Time) error {
	appErr := shared.NewRateLimitError(nil, message)
	if info.ResetTime != nil {
		appErr.WithData("reset_time", info.ResetTime.Unix())
		retryAfter := int(info.ResetTime.Sub(now).Seconds())
		if retryAfter > 0 {
			appErr.WithData("retry_after", retryAfter)
		}
	}
	if info.BlockedUntil != nil {
		appErr.WithData("blocked_until", info.BlockedUntil.Unix())
	}
	return appErr
}

func (svc *RateLimitService) reject(op, layer string) {
	if svc.monitoringSvc != nil {
		svc.monitoringSvc.RecordRateLimitRejection(op, layer)
	}
	log.WithFields(log.Fields{
		"operation": op,
		"layer":     layer,
	}).Warn("Rate limit rejection")
}

// ==================== FAILED SCAN COOLDOWN ====================

// RecordFailedScan tracks a not-food verdict for the user. Crossing the
// threshold inside the rolling window locks all their scans until the
// cooldown passes.
func (svc *RateLimitService) RecordFailedScan(userID string) {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	now := svc.now()

	state, ok := svc.cooldowns[userID]
	if !ok {
		state = &failureState{}
		svc.cooldowns[userID] = state
	}

	state.failures = pruneWindow(state.failures, svc.cooldownWindow, now)
	state.failures = append(state.failures, now)

	if len(state.failures) >= svc.cooldownThreshold && !now.Before(state.blockedUntil) {
		state.blockedUntil = now.Add(svc.cooldownBlock)
		state.failures = nil

		log.WithFields(log.Fields{
			"user_id":       userID,
			"blocked_until": state.blockedUntil,
		}).Warn("Failed scan cooldown engaged")
	}
}

// InCooldown reports whether the user is currently locked out.
func (svc *RateLimitService) InCooldown(userID string) bool {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	state, ok := svc.cooldowns[userID]
	return ok && svc.now().Before(state.blockedUntil)
}

// Enforcing reports the master switch. Callers holding quota state of
// their own (the durable nutrition quota) honor it too.
func (svc *RateLimitService) Enforcing() bool {
	return svc.enforce
}

// ==================== MIDDLEWARE FUNCTIONS ====================

// IPRateLimit applies a coarse per-IP ceiling across the whole API
// surface, in front of the per-operation layers.
func (svc *RateLimitService) IPRateLimit(limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !svc.enforce {
			return c.Next()
		}

		ip := shared.ClientIP(c)

		svc.mutex.Lock()
		info := svc.slide("ip_global:"+ip, limit, window, svc.now())
		svc.mutex.Unlock()

		svc.AddRateLimitHeaders(c, info)

		if !info.Allowed {
			svc.reject("api_general", "burst_ip")
			return rateLimitError("Too many requests. Please slow down.", info, svc.now())
		}

		return c.Next()
	}
}

// ==================== HELPER FUNCTIONS ====================

func (svc *RateLimitService) AddRateLimitHeaders(c *fiber.Ctx, info *dto.RateLimitInfo) {
	if info == nil {
		return
	}

	if info.Limit > 0 {
		c.Set(shared.HeaderRateLimitLimit, strconv.Itoa(info.Limit))
	}

	if info.Remaining >= 0 {
		c.Set(shared.HeaderRateLimitRemaining, strconv.Itoa(info.Remaining))
	}

	if info.ResetTime != nil {
		c.Set(shared.HeaderRateLimitReset, strconv.FormatInt(info.ResetTime.Unix(), 10))
	}

	if info.BlockedUntil != nil {
		retryAfter := int(time.Until(*info.BlockedUntil).Seconds())
		if retryAfter > 0 {
			c.Set("Retry-After", strconv.Itoa(retryAfter))
		}
	}
}

// ==================== BACKGROUND JOBS ====================

func (svc *RateLimitService) CleanupOldRecords() {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	now := svc.now()
	today := now.UTC().Format("2006-01-02")

	for key, bucket := range svc.daily {
		if bucket.day != today {
			delete(svc.daily, key)
		}
	}

	// Burst windows are all a minute or shorter; anything idle for an
	// hour is garbage.
	for key, hits := range svc.bursts {
		kept := pruneWindow(hits, time.Hour, now)
		if len(kept) == 0 {
			delete(svc.bursts, key)
		} else {
			svc.bursts[key] = kept
		}
	}

	for userID, state := range svc.cooldowns {
		state.failures = pruneWindow(state.failures, svc.cooldownWindow, now)
		if len(state.failures) == 0 && !now.Before(state.blockedUntil) {
			delete(svc.cooldowns, userID)
		}
	}
}

func (svc *RateLimitService) startCleanupJob() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		svc.CleanupOldRecords()
		log.Printf("Rate limit cleanup completed successfully")
	}
}

// ==================== PUBLIC METHODS ====================

func (svc *RateLimitService) GetRateLimitStats() fiber.Handler {
	return func(c *fiber.Ctx) error {
		svc.mutex.Lock()
		configs := make(map[string]*VisionLimitConfig, len(svc.configs))
		for k, v := range svc.configs {
			configs[k] = v
		}
		stats := map[string]interface{}{
			"configs":          configs,
			"daily_buckets":    len(svc.daily),
			"burst_windows":    len(svc.bursts),
			"active_cooldowns": len(svc.cooldowns),
			"enforcing":        svc.enforce,
			"timestamp":        svc.now(),
		}
		svc.mutex.Unlock()

		return shared.ResponseJSON(c, fiber.StatusOK, stats)
	}
}
