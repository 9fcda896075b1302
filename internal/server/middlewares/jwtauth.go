package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/driftbox/driftbox/internal/server/auth"
	"github.com/driftbox/driftbox/internal/server/handlers/api"
)

const (
	bearerPrefix = "Bearer "
	authHeader   = "Authorization"

	userContextKey   = "user" // username
	userIDContextKey = "uid"  // stable user id
)

// JWTAuth validates the bearer access token and stores the caller's identity
// on the request context.
func JWTAuth(authService *auth.AuthService) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeaderValue := ctx.GetHeader(authHeader)
		if authHeaderValue == "" {
			abortUnauthorized(ctx, "Authorization header is missing")
			return
		}

		if !strings.HasPrefix(authHeaderValue, bearerPrefix) {
			abortUnauthorized(ctx, "Authorization header format must be Bearer {token}")
			return
		}

		tokenString := strings.TrimPrefix(authHeaderValue, bearerPrefix)
		if tokenString == "" {
			abortUnauthorized(ctx, "Token is missing")
			return
		}

		claims, err := authService.ValidateAccessToken(ctx, tokenString)
		if err != nil {
			abortUnauthorized(ctx, err.Error())
			return
		}

		ctx.Set(userContextKey, claims.Subject)
		ctx.Set(userIDContextKey, claims.UserID)
		ctx.Next()
	}
}

func abortUnauthorized(ctx *gin.Context, message string) {
	ctx.AbortWithStatusJSON(http.StatusUnauthorized, api.APIError{
		Code:    api.CodeAuthInvalidCredentials,
		Message: message,
	})
}
