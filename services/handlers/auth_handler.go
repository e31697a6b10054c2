package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/eatlock-app/vision_api/shared"
)

type AuthHandler struct {
	authSvc AuthServiceInterface
}

func NewAuthHandler(authSvc AuthServiceInterface) *AuthHandler {
	return &AuthHandler{
		authSvc: authSvc,
	}
}

// @Summary Create Anonymous Session
// @Description Issues an anonymous identity-provider session for first-launch clients
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} dto.AnonymousSession
// @Router /v1/auth/anonymous [post]
func (h *AuthHandler) AnonymousSession(c *fiber.Ctx) error {
	session, err := h.authSvc.IssueAnonymousSession(c.UserContext())
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, session)
}
