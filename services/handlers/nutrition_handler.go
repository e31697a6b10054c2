package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/eatlock-app/vision_api/dto"
	"github.com/eatlock-app/vision_api/shared"
)

type NutritionHandler struct {
	authSvc      AuthServiceInterface
	rateLimitSvc RateLimitServiceInterface
	storageSvc   StorageServiceInterface
	visionSvc    VisionServiceInterface
	quotaSvc     QuotaServiceInterface

	dailyLimit int
}

func NewNutritionHandler(authSvc AuthServiceInterface, rateLimitSvc RateLimitServiceInterface, storageSvc StorageServiceInterface, visionSvc VisionServiceInterface, quotaSvc QuotaServiceInterface, dailyLimit int) *NutritionHandler {
	return &NutritionHandler{
		authSvc:      authSvc,
		rateLimitSvc: rateLimitSvc,
		storageSvc:   storageSvc,
		visionSvc:    visionSvc,
		quotaSvc:     quotaSvc,
		dailyLimit:   dailyLimit,
	}
}

// @Summary Estimate Nutrition
// @Description Itemizes the meal in a stored photo and estimates calories
// @Tags nutrition
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Bearer Token" default(Bearer <token>)
// @Param x-dev-bypass header string false "Set to true with a valid bypass token to skip the daily quota"
// @Param x-dev-bypass-token header string false "Bypass token"
// @Param request body dto.NutritionEstimateRequest true "Object key of the meal photo"
// @Success 200 {object} dto.NutritionEstimate
// @Router /v1/nutrition/estimate [post]
func (h *NutritionHandler) Estimate(c *fiber.Ctx) error {
	userID := c.Locals(shared.UserID).(string)

	info, err := h.rateLimitSvc.CheckLimits(userID, shared.ClientIP(c), shared.OpEstimateNutrition)
	if info != nil {
		h.rateLimitSvc.AddRateLimitHeaders(c, info)
	}
	if err != nil {
		return err
	}

	var req dto.NutritionEstimateRequest
	if err := shared.DecodeStrict(c.Body(), &req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request body")
	}
	if err := req.Validate(); err != nil {
		return shared.NewBadRequestError(err, "Validation failed").
			WithData("details", dto.FormatValidationErrors(err))
	}

	if err := h.authSvc.CheckKeyOwnership(userID, req.R2Key); err != nil {
		return err
	}

	// The nutrition quota lives in Redis so it survives restarts. The
	// dev bypass skips only this check, never auth or ownership.
	if h.rateLimitSvc.Enforcing() && !h.authSvc.IsDevBypass(c, userID) {
		quota, err := h.quotaSvc.ConsumeDailyQuota(c.UserContext(), "nutrition", userID, h.dailyLimit)
		if err != nil {
			return shared.NewInternalError(err, "Quota check failed")
		}
		h.rateLimitSvc.AddRateLimitHeaders(c, quota)
		if !quota.Allowed {
			appErr := shared.NewRateLimitError(errors.New("daily nutrition quota exhausted"), "Daily limit reached. Try again tomorrow.")
			if quota.ResetTime != nil {
				appErr = appErr.
					WithData("reset_time", quota.ResetTime.UTC().Format(time.RFC3339)).
					WithData("retry_after", int(time.Until(*quota.ResetTime).Seconds()))
			}
			return appErr
		}
	}

	img, err := h.storageSvc.FetchImage(c.UserContext(), req.R2Key)
	if err != nil {
		return err
	}

	result, err := h.visionSvc.EstimateNutrition(c.UserContext(), img)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, result)
}
