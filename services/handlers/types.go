package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/eatlock-app/vision_api/dto"
	"github.com/eatlock-app/vision_api/model"
)

type AuthServiceInterface interface {
	RequiredAuth() fiber.Handler
	CheckKeyOwnership(userID, key string) error
	IsDevBypass(c *fiber.Ctx, userID string) bool
	IssueAnonymousSession(ctx context.Context) (*dto.AnonymousSession, error)
}

type RateLimitServiceInterface interface {
	CheckLimits(userID, ip, op string) (*dto.RateLimitInfo, error)
	RecordFailedScan(userID string)
	AddRateLimitHeaders(c *fiber.Ctx, info *dto.RateLimitInfo)
	Enforcing() bool
}

type StorageServiceInterface interface {
	FetchImage(ctx context.Context, key string) (*dto.ImageData, error)
	FetchImagePair(ctx context.Context, keyA, keyB string) (*dto.ImageData, *dto.ImageData, error)
	DeleteImages(ctx context.Context, keys ...string)
}

type VisionServiceInterface interface {
	VerifyFood(ctx context.Context, img *dto.ImageData) (*dto.FoodCheckResult, error)
	CompareMeal(ctx context.Context, before, after *dto.ImageData) (*dto.MealComparisonResult, error)
	EstimateNutrition(ctx context.Context, img *dto.ImageData) (*dto.NutritionEstimate, error)
}

type VisionQueueServiceInterface interface {
	EnqueueVisionJob(ctx context.Context, userID string, req *dto.EnqueueVisionJobRequest) (*model.VisionJob, error)
	GetVisionJobStatus(jobID, userID string) (*dto.VisionJobStatusResponse, error)
}

type QuotaServiceInterface interface {
	ConsumeDailyQuota(ctx context.Context, name, userID string, limit int) (*dto.RateLimitInfo, error)
}

type BarcodeServiceInterface interface {
	Lookup(ctx context.Context, barcode string) (*dto.ProductInfo, error)
}
