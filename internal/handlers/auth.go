package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/masjidku/masjidauth/internal/apperrors"
	"github.com/masjidku/masjidauth/internal/handlers/render"
	"github.com/masjidku/masjidauth/internal/handlers/userctx"
	"github.com/masjidku/masjidauth/internal/models"
	"github.com/masjidku/masjidauth/internal/service/auth"
)

// Session manager contract consumed by the HTTP layer
type AuthService interface {
	Login(ctx context.Context, identifier string, password string, meta models.ClientMeta) (auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string, meta models.ClientMeta) (models.TokenPair, error)
	Revoke(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error)
	Authenticate(ctx context.Context, accessToken string) (models.Identity, error)
	AccessTTL() time.Duration
}

type AuthHandler struct {
	authService AuthService
}

func NewAuth(auth AuthService) *AuthHandler {
	return &AuthHandler{authService: auth}
}

// UserResponse is the identity payload crossing to the admin frontend
type UserResponse struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		ID       string `json:"id" validate:"required,max=255,login_id"`
		Password string `json:"password" validate:"required,min=6,max=255"`
	}
	type LoginSuccessResponse struct {
		Success      bool         `json:"success"`
		User         UserResponse `json:"user"`
		Permissions  []string     `json:"permissions"`
		AccessToken  string       `json:"access_token"`
		RefreshToken string       `json:"refresh_token"`
		ExpiresIn    int64        `json:"expires_in"`
		TokenType    string       `json:"token_type"`
	}

	data, err := render.BindAndValidate[LoginRequest](w, r)
	if err != nil {
		return
	}

	result, err := h.authService.Login(r.Context(), data.ID, data.Password, clientMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			// Same message for unknown user and wrong password
			render.ServiceError(w, "Invalid username/email or password", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrAccountInactive):
			render.ServiceError(w, "Account is inactive. Please contact admin.", http.StatusForbidden)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, LoginSuccessResponse{
		Success: true,
		User: UserResponse{
			ID:       result.Identity.UserID,
			Name:     result.Identity.Name,
			Username: result.Identity.Username,
			Email:    result.Identity.Email,
			Role:     result.Identity.Role(),
		},
		Permissions:  result.Identity.Permissions,
		AccessToken:  result.Pair.Access.Value,
		RefreshToken: result.Pair.Refresh.Value,
		ExpiresIn:    int64(h.authService.AccessTTL().Seconds()),
		TokenType:    "Bearer",
	})
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	type RefreshRequest struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	type RefreshSuccessResponse struct {
		Success      bool   `json:"success"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		TokenType    string `json:"token_type"`
	}

	data, err := render.BindAndValidate[RefreshRequest](w, r)
	if err != nil {
		return
	}

	pair, err := h.authService.Refresh(r.Context(), data.RefreshToken, clientMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrRefreshTokenExpired):
			render.ServiceError(w, "Refresh token expired. Please login again.", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
			render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrAccountInactive):
			render.ServiceError(w, "Account is inactive. Please contact admin.", http.StatusForbidden)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, RefreshSuccessResponse{
		Success:      true,
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
		ExpiresIn:    int64(h.authService.AccessTTL().Seconds()),
		TokenType:    "Bearer",
	})
}

// logout deletes every refresh token of the authenticated caller
func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	type LogoutSuccessResponse struct {
		Success       bool   `json:"success"`
		Message       string `json:"message"`
		DeletedTokens int64  `json:"deleted_tokens"`
	}

	identity, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	deleted, err := h.authService.LogoutAll(r.Context(), identity.UserID)
	if err != nil {
		render.ServiceError(w, "Failed to logout", http.StatusInternalServerError)
		return
	}

	render.JSON(w, LogoutSuccessResponse{
		Success:       true,
		Message:       "Logged out successfully",
		DeletedTokens: deleted,
	})
}

// revokeToken deletes one refresh token row. Responds ok even when the token
// is already gone.
func (h *AuthHandler) revokeToken(w http.ResponseWriter, r *http.Request) {
	type RevokeRequest struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	type RevokeSuccessResponse struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}

	data, err := render.BindAndValidate[RevokeRequest](w, r)
	if err != nil {
		return
	}

	if err := h.authService.Revoke(r.Context(), data.RefreshToken); err != nil {
		render.ServiceError(w, "Failed to revoke refresh token", http.StatusInternalServerError)
		return
	}

	render.JSON(w, RevokeSuccessResponse{
		Success: true,
		Message: "Refresh token deleted successfully",
	})
}

// me echoes the authenticated identity, the smallest consumer of the
// middleware contract
func (h *AuthHandler) me(w http.ResponseWriter, r *http.Request) {
	type MeSuccessResponse struct {
		Success     bool         `json:"success"`
		User        UserResponse `json:"user"`
		Roles       []string     `json:"roles"`
		Permissions []string     `json:"permissions"`
	}

	identity, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	render.JSON(w, MeSuccessResponse{
		Success: true,
		User: UserResponse{
			ID:       identity.UserID,
			Name:     identity.Name,
			Username: identity.Username,
			Email:    identity.Email,
			Role:     identity.Role(),
		},
		Roles:       identity.Roles,
		Permissions: identity.Permissions,
	})
}

// clientMeta captures diagnostic request metadata stored with refresh tokens
func clientMeta(r *http.Request) models.ClientMeta {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		// First address is the originating client
		ip = strings.TrimSpace(strings.SplitN(ip, ",", 2)[0])
	} else {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil {
			ip = host
		} else {
			ip = r.RemoteAddr
		}
	}

	return models.ClientMeta{
		DeviceInfo: r.UserAgent(),
		IPAddress:  ip,
	}
}
