package ws

import (
	"context"

	"github.com/driftbox/driftbox/internal/server/auth"
)

// TokenValidator checks the bearer credential carried by CONNECT frames.
// The auth service satisfies it.
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*auth.Claims, error)
}

// SessionInfo identifies an authenticated push-channel session.
type SessionInfo struct {
	UserID   string
	Username string
	ClientID string
	IPAddr   string
}
