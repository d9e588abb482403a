package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/veridian-labs/veridian/core/pkg/api"
	"github.com/veridian-labs/veridian/core/pkg/auth"
)

// AuthHandlers exposes login, refresh, logout, and the caller profile.
type AuthHandlers struct {
	service *auth.Service
}

func NewAuthHandlers(service *auth.Service) *AuthHandlers {
	return &AuthHandlers{service: service}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int        `json:"expires_in"`
	User         *auth.User `json:"user"`
}

func toLoginResponse(r *auth.LoginResult) loginResponse {
	return loginResponse{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    r.ExpiresIn,
		User:         r.User,
	}
}

func (h *AuthHandlers) Login(ctx context.Context, req *api.Request) *api.Response {
	var body loginRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}
	if strings.TrimSpace(body.Username) == "" || body.Password == "" {
		return api.BadRequest("username and password are required")
	}

	result, err := h.service.Login(ctx, body.Username, body.Password)
	switch {
	case errors.Is(err, auth.ErrAccountLocked):
		return api.Forbidden("account locked")
	case errors.Is(err, auth.ErrInvalidCredentials):
		return api.Unauthorized("invalid credentials")
	case err != nil:
		return api.Internal(err)
	}
	return api.OK(toLoginResponse(result))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandlers) Refresh(ctx context.Context, req *api.Request) *api.Response {
	var body refreshRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}
	if body.RefreshToken == "" {
		return api.BadRequest("refresh_token is required")
	}

	result, err := h.service.Refresh(ctx, body.RefreshToken)
	switch {
	case errors.Is(err, auth.ErrExpired), errors.Is(err, auth.ErrRevoked),
		errors.Is(err, auth.ErrMalformed), errors.Is(err, auth.ErrUnknownUser):
		return api.Unauthorized("invalid refresh token")
	case err != nil:
		return api.Internal(err)
	}
	return api.OK(toLoginResponse(result))
}

// Logout revokes the presented refresh token. The token arrives either in
// the JSON body or as the Authorization bearer value.
func (h *AuthHandlers) Logout(ctx context.Context, req *api.Request) *api.Response {
	var body refreshRequest
	if len(req.Body) > 0 {
		if err := decode(req.Body, &body); err != nil {
			return api.BadRequest(err.Error())
		}
	}
	token := body.RefreshToken
	if token == "" {
		token = bearerValue(req.Headers.Get("Authorization"))
	}
	if token == "" {
		return api.BadRequest("refresh_token is required")
	}
	// Revoking an unknown token is a no-op: logout is idempotent.
	_ = h.service.Logout(ctx, token)
	return api.OK(map[string]string{"status": "logged_out"})
}

func bearerValue(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Me returns the authenticated caller's profile.
func (h *AuthHandlers) Me(ctx context.Context, req *api.Request) *api.Response {
	u, err := h.service.Me(ctx, req.CallerID)
	if errors.Is(err, auth.ErrUnknownUser) {
		return api.Unauthorized("unknown user")
	}
	if err != nil {
		return api.Internal(err)
	}
	return api.OK(u)
}

type unlockRequest struct {
	UserID string `json:"user_id"`
}

// Unlock is the administrative reset for locked accounts.
func (h *AuthHandlers) Unlock(ctx context.Context, req *api.Request) *api.Response {
	var body unlockRequest
	if err := decode(req.Body, &body); err != nil {
		return api.BadRequest(err.Error())
	}
	if body.UserID == "" {
		return api.BadRequest("user_id is required")
	}
	if err := h.service.UnlockUser(ctx, body.UserID); err != nil {
		return api.Internal(err)
	}
	return api.NoContent()
}
