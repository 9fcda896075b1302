package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/driftbox/driftbox/internal/server/auth"
	"github.com/driftbox/driftbox/internal/server/handlers/api"
	"github.com/driftbox/driftbox/internal/server/users"
)

type AuthHandler struct {
	auth *auth.AuthService
}

func New(auth *auth.AuthService) *AuthHandler {
	return &AuthHandler{
		auth: auth,
	}
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req RegisterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	user, err := h.auth.Register(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrAlreadyExists) {
			api.AbortWithError(ctx, http.StatusConflict, api.CodeAuthUserExists, err)
		} else {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeAuthRegistrationFailed, err)
		}
		return
	}

	ctx.JSON(http.StatusCreated, user)
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	pair, err := h.auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrAccountDisabled) {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials, err)
		} else {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeAuthTokenGenerationFailed, err)
		}
		return
	}

	ctx.JSON(http.StatusOK, &TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *AuthHandler) Refresh(ctx *gin.Context) {
	var req RefreshRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	pair, err := h.auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidRefreshToken) {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials, err)
		} else {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeAuthTokenRefreshFailed, err)
		}
		return
	}

	ctx.JSON(http.StatusOK, &TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *AuthHandler) Logout(ctx *gin.Context) {
	var req LogoutRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	if err := h.auth.Logout(ctx, req.RefreshToken); err != nil {
		api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials, err)
		return
	}

	ctx.String(http.StatusOK, "")
}
