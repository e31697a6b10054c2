package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/eatlock-app/vision_api/dto"
	"github.com/eatlock-app/vision_api/shared"
)

type BarcodeHandler struct {
	rateLimitSvc RateLimitServiceInterface
	barcodeSvc   BarcodeServiceInterface
}

func NewBarcodeHandler(rateLimitSvc RateLimitServiceInterface, barcodeSvc BarcodeServiceInterface) *BarcodeHandler {
	return &BarcodeHandler{
		rateLimitSvc: rateLimitSvc,
		barcodeSvc:   barcodeSvc,
	}
}

// @Summary Lookup Barcode
// @Description Resolves a product barcode to name and nutrition facts. Unknown products answer with a placeholder, not an error.
// @Tags nutrition
// @Accept json
// @Produce json
// @Security Bearer
// @Param Authorization header string true "Bearer Token" default(Bearer <token>)
// @Param request body dto.BarcodeLookupRequest true "Product barcode"
// @Success 200 {object} dto.ProductInfo
// @Router /v1/barcode/lookup [post]
func (h *BarcodeHandler) Lookup(c *fiber.Ctx) error {
	userID := c.Locals(shared.UserID).(string)

	info, err := h.rateLimitSvc.CheckLimits(userID, shared.ClientIP(c), shared.OpBarcodeLookup)
	if info != nil {
		h.rateLimitSvc.AddRateLimitHeaders(c, info)
	}
	if err != nil {
		return err
	}

	var req dto.BarcodeLookupRequest
	if err := shared.DecodeStrict(c.Body(), &req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request body")
	}
	if err := req.Validate(); err != nil {
		return shared.NewBadRequestError(err, "Validation failed").
			WithData("details", dto.FormatValidationErrors(err))
	}

	product, err := h.barcodeSvc.Lookup(c.UserContext(), req.Barcode)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, product)
}
