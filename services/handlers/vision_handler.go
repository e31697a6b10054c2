package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/eatlock-app/vision_api/dto"
	"github.com/eatlock-app/vision_api/shared"
)

type VisionHandler struct {
	authSvc      AuthServiceInterface
	rateLimitSvc RateLimitServiceInterface
	storageSvc   StorageServiceInterface
	visionSvc    VisionServiceInterface
	queueSvc     VisionQueueServiceInterface
}

func NewVisionHandler(authSvc AuthServiceInterface, rateLimitSvc RateLimitServiceInterface, storageSvc StorageServiceInterface, visionSvc VisionServiceInterface, queueSvc VisionQueueServiceInterface) *VisionHandler {
	return &VisionHandler{
		authSvc:      authSvc,
		rateLimitSvc: rateLimitSvc,
		storageSvc:   storageSvc,
		visionSvc:    visionSvc,
		queueSvc:     queueSvc,
	}
}

// @Summary Verify Food Photo
// @Description Checks that a stored meal photo shows real food
// @Tags vision
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Bearer Token" default(Bearer <token>)
// @Param request body dto.VerifyFoodRequest true "Object key of the meal photo"
// @Success 200 {object} dto.FoodCheckResult
// @Router /v1/vision/verify-food [post]
func (h *VisionHandler) VerifyFood(c *fiber.Ctx) error {
	userID := c.Locals(shared.UserID).(string)

	info, err := h.rateLimitSvc.CheckLimits(userID, shared.ClientIP(c), shared.OpVerifyFood)
	if info != nil {
		h.rateLimitSvc.AddRateLimitHeaders(c, info)
	}
	if err != nil {
		return err
	}

	var req dto.VerifyFoodRequest
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

	img, err := h.storageSvc.FetchImage(c.UserContext(), req.R2Key)
	if err != nil {
		return err
	}

	result, err := h.visionSvc.VerifyFood(c.UserContext(), img)
	if err != nil {
		return err
	}

	// The photo stays in storage; a later compare call may reuse it.
	if result.Verdict == shared.VerdictNotFood {
		h.rateLimitSvc.RecordFailedScan(userID)
	}

	return shared.ResponseJSON(c, fiber.StatusOK, result)
}

// @Summary Compare Meal Photos
// @Description Judges from before/after photos how much of the meal was eaten
// @Tags vision
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Bearer Token" default(Bearer <token>)
// @Param request body dto.CompareMealRequest true "Object keys of the before and after photos"
// @Success 200 {object} dto.MealComparisonResult
// @Router /v1/vision/compare-meal [post]
func (h *VisionHandler) CompareMeal(c *fiber.Ctx) error {
	userID := c.Locals(shared.UserID).(string)

	info, err := h.rateLimitSvc.CheckLimits(userID, shared.ClientIP(c), shared.OpCompareMeal)
	if info != nil {
		h.rateLimitSvc.AddRateLimitHeaders(c, info)
	}
	if err != nil {
		return err
	}

	var req dto.CompareMealRequest
	if err := shared.DecodeStrict(c.Body(), &req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request body")
	}
	if err := req.Validate(); err != nil {
		return shared.NewBadRequestError(err, "Validation failed").
			WithData("details", dto.FormatValidationErrors(err))
	}

	if err := h.authSvc.CheckKeyOwnership(userID, req.PreKey); err != nil {
		return err
	}
	if err := h.authSvc.CheckKeyOwnership(userID, req.PostKey); err != nil {
		return err
	}

	before, after, err := h.storageSvc.FetchImagePair(c.UserContext(), req.PreKey, req.PostKey)
	if err != nil {
		return err
	}

	result, err := h.visionSvc.CompareMeal(c.UserContext(), before, after)
	if err != nil {
		return err
	}

	// Both photos are single-use regardless of verdict.
	go h.storageSvc.DeleteImages(context.Background(), req.PreKey, req.PostKey)

	return shared.ResponseJSON(c, fiber.StatusOK, result)
}

// @Summary Enqueue Vision Job
// @Description Queues a scan for asynchronous processing
// @Tags vision
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Bearer Token" default(Bearer <token>)
// @Param request body dto.EnqueueVisionJobRequest true "Stage and object keys"
// @Success 202 {object} dto.VisionJobResponse
// @Router /v1/vision/jobs [post]
func (h *VisionHandler) EnqueueJob(c *fiber.Ctx) error {
	userID := c.Locals(shared.UserID).(string)

	var req dto.EnqueueVisionJobRequest
	if err := shared.DecodeStrict(c.Body(), &req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request body")
	}
	if err := req.Validate(); err != nil {
		return shared.NewBadRequestError(err, "Validation failed").
			WithData("details", dto.FormatValidationErrors(err))
	}

	// An async job burns the same budget as its synchronous twin.
	op := shared.OpVerifyFood
	if req.Stage == shared.StageEndScan {
		op = shared.OpCompareMeal
	}
	info, err := h.rateLimitSvc.CheckLimits(userID, shared.ClientIP(c), op)
	if info != nil {
		h.rateLimitSvc.AddRateLimitHeaders(c, info)
	}
	if err != nil {
		return err
	}

	for _, key := range req.R2Keys {
		if err := h.authSvc.CheckKeyOwnership(userID, key); err != nil {
			return err
		}
	}

	job, err := h.queueSvc.EnqueueVisionJob(c.UserContext(), userID, &req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusAccepted, dto.VisionJobResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

// @Summary Get Vision Job
// @Description Returns the status and, once done, the result of a queued scan
// @Tags vision
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Bearer Token" default(Bearer <token>)
// @Param jobId path string true "Job ID"
// @Success 200 {object} dto.VisionJobStatusResponse
// @Router /v1/vision/jobs/{jobId} [get]
func (h *VisionHandler) GetJobStatus(c *fiber.Ctx) error {
	userID := c.Locals(shared.UserID).(string)
	jobID := c.Params("jobId")

	status, err := h.queueSvc.GetVisionJobStatus(jobID, userID)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, status)
}
