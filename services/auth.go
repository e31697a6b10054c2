package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/eatlock-app/vision_api/dto"
	"github.com/eatlock-app/vision_api/shared"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// AuthService is the gate in front of every endpoint. Tokens are minted
// and refreshed by the identity provider, not by us, so verification
// means asking the provider: per request, no caching, fail closed.
type AuthService struct {
	appContext.DefaultService

	identityURL string
	anonKey     string
	httpClient  *http.Client

	devBypassUserIDs   map[string]bool
	devBypassTokenHash string

	parser *jwt.Parser
}

const AUTH_SVC = "auth_svc"

func (svc AuthService) Id() string {
	return AUTH_SVC
}

func (svc *AuthService) Configure(ctx *appContext.Context) error {
	svc.identityURL = strings.TrimRight(os.Getenv("IDENTITY_URL"), "/")
	if svc.identityURL == "" {
		svc.identityURL = "http://localhost:9999"
	}

	svc.anonKey = os.Getenv("IDENTITY_ANON_KEY")

	svc.devBypassUserIDs = make(map[string]bool)
	for _, id := range strings.Split(os.Getenv("DEV_BYPASS_USER_IDS"), ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			svc.devBypassUserIDs[id] = true
		}
	}
	svc.devBypassTokenHash = os.Getenv("DEV_BYPASS_TOKEN_HASH")

	svc.httpClient = &http.Client{Timeout: 10 * time.Second}
	svc.parser = jwt.NewParser()

	return svc.DefaultService.Configure(ctx)
}

func (svc *AuthService) Start() error {
	return nil
}

func (svc *AuthService) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	// Check if the header starts with "Bearer "
	if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
		return "", errors.New("invalid authorization header format")
	}

	return authHeader[7:], nil
}

// checkTokenShape rejects garbage that is structurally not a JWT before
// we spend a network round trip on it. No signature verification here;
// that is the identity provider's job.
func (svc *AuthService) checkTokenShape(token string) error {
	if _, _, err := svc.parser.ParseUnverified(token, jwt.MapClaims{}); err != nil {
		return fmt.Errorf("malformed token: %w", err)
	}
	return nil
}

// VerifyToken validates the bearer token against the identity provider
// and returns the user it belongs to.
func (svc *AuthService) VerifyToken(ctx context.Context, token string) (*dto.IdentityUser, error) {
	if err := svc.checkTokenShape(token); err != nil {
		return nil, shared.NewUnauthorizedError(err, "Unauthorized")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.identityURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, shared.NewUnauthorizedError(err, "Unauthorized")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if svc.anonKey != "" {
		req.Header.Set("apikey", svc.anonKey)
	}

	resp, err := svc.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Error("Identity endpoint unreachable")
		return nil, shared.NewUnauthorizedError(err, "Unauthorized")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, shared.NewUnauthorizedError(err, "Unauthorized")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, shared.NewUnauthorizedError(
			fmt.Errorf("identity endpoint returned status %d, body: %s", resp.StatusCode, shared.Excerpt(body, 200)),
			"Unauthorized")
	}

	var user dto.IdentityUser
	if err := shared.JSONUnmarshal(body, &user); err != nil {
		return nil, shared.NewUnauthorizedError(err, "Unauthorized")
	}
	if user.ID == "" {
		return nil, shared.NewUnauthorizedError(errors.New("identity response missing user id"), "Unauthorized")
	}

	return &user, nil
}

// RequiredAuth resolves the caller before any handler runs and stashes
// the user id in locals.
func (svc *AuthService) RequiredAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := svc.ExtractTokenFromHeader(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return shared.NewUnauthorizedError(err, "Unauthorized")
		}

		user, err := svc.VerifyToken(c.Context(), token)
		if err != nil {
			return err
		}

		c.Locals(shared.UserID, user.ID)
		return c.Next()
	}
}

// CheckKeyOwnership enforces that the object key embeds the caller's
// user id. Keys are uploaded under users/<id>/..., so a key without the
// id belongs to someone else.
func (svc *AuthService) CheckKeyOwnership(userID, key string) error {
	if userID == "" {
		return shared.NewUnauthorizedError(nil, "Unauthorized")
	}
	if !strings.Contains(key, userID) {
		return shared.NewForbiddenError(
			fmt.Errorf("key %q does not reference user", key),
			"You do not have access to this object")
	}
	return nil
}

// IsDevBypass reports whether this request may skip daily quotas: the
// bypass headers must be present, the user allow-listed, and the bypass
// token must match the configured bcrypt hash. With no hash configured
// the bypass is off everywhere.
func (svc *AuthService) IsDevBypass(c *fiber.Ctx, userID string) bool {
	if svc.devBypassTokenHash == "" {
		return false
	}
	if c.Get(shared.HeaderDevBypass) != "true" {
		return false
	}
	if !svc.devBypassUserIDs[userID] {
		return false
	}

	token := c.Get(shared.HeaderDevBypassToken)
	if token == "" {
		return false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(svc.devBypassTokenHash), []byte(token)); err != nil {
		return false
	}

	log.WithField("user_id", userID).Info("Dev bypass applied")
	return true
}

// IssueAnonymousSession asks the identity provider for a fresh
// anonymous user so the app works before signup.
func (svc *AuthService) IssueAnonymousSession(ctx context.Context) (*dto.AnonymousSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.identityURL+"/auth/v1/signup", strings.NewReader("{}"))
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to create session request")
	}
	req.Header.Set("Content-Type", "application/json")
	if svc.anonKey != "" {
		req.Header.Set("apikey", svc.anonKey)
	}

	resp, err := svc.httpClient.Do(req)
	if err != nil {
		return nil, shared.NewTransientUpstreamError(err, "Identity provider unavailable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, shared.NewTransientUpstreamError(err, "Identity provider unavailable")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, shared.NewUpstreamError(
			fmt.Errorf("identity endpoint returned status %d, body: %s", resp.StatusCode, shared.Excerpt(body, 200)),
			"Failed to create anonymous session")
	}

	var session dto.AnonymousSession
	if err := shared.JSONUnmarshal(body, &session); err != nil {
		return nil, shared.NewUpstreamError(err, "Malformed identity response")
	}

	return &session, nil
}
