package dto

import "time"

// ==================== IDENTITY DTOs ====================

// IdentityUser is the profile the identity provider returns for a
// verified bearer token.
type IdentityUser struct {
	ID          string    `json:"id" example:"0198a4b2-7f3e-7cc1-a2b4-9d1e6f0c8a21"`
	Aud         string    `json:"aud,omitempty" example:"authenticated"`
	Role        string    `json:"role,omitempty" example:"authenticated"`
	Email       string    `json:"email,omitempty" example:"user@example.com"`
	IsAnonymous bool      `json:"is_anonymous,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// AnonymousSession mirrors the identity provider's session grant so the
// mobile client can store it unchanged.
type AnonymousSession struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type" example:"bearer"`
	ExpiresIn    int          `json:"expires_in" example:"3600"`
	RefreshToken string       `json:"refresh_token"`
	User         IdentityUser `json:"user"`
}
