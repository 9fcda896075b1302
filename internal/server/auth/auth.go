package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"

	"github.com/driftbox/driftbox/internal/server/users"
)

// AuthService issues and validates the bearer credentials used by every
// authenticated route and by the push channel CONNECT frame.
type AuthService struct {
	config *Config
	users  *users.Store

	// refresh token ids revoked by logout; entries age out with the token
	revoked *expirable.LRU[string, struct{}]
}

func NewAuthService(config *Config, userStore *users.Store) *AuthService {
	expiry := config.RefreshTokenExpiry
	if expiry <= 0 {
		expiry = 30 * 24 * time.Hour
	}
	return &AuthService{
		config:  config,
		users:   userStore,
		revoked: expirable.NewLRU[string, struct{}](0, nil, expiry), // 0 = LRU off
	}
}

func (s *AuthService) Register(ctx context.Context, username, email, password string) (*users.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, username, email, string(hash))
	if err != nil {
		return nil, err
	}

	slog.Info("user registered", "username", username)
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.AccountStatus != "ACTIVE" {
		return nil, ErrAccountDisabled
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.users.TouchLastLogin(ctx, user.UserID); err != nil {
		slog.Warn("touch last login", "username", username, "error", err)
	}

	return s.generateTokenPair(user)
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByUsername(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}

	// rotate: the old refresh token id is revoked
	s.revoked.Add(claims.ID, struct{}{})

	return s.generateTokenPair(user)
}

// Logout revokes the refresh token; the short-lived access token is left to
// expire on its own.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}
	s.revoked.Add(claims.ID, struct{}{})
	return nil
}

func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*Claims, error) {
	if accessToken == "" {
		return nil, ErrInvalidAccessToken
	}

	claims, err := ParseClaims(accessToken, s.config.AccessTokenSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}

	if claims.Type != AccessToken {
		return nil, fmt.Errorf("%w: wrong token type %q", ErrInvalidAccessToken, claims.Type)
	}

	return claims, nil
}

func (s *AuthService) ValidateRefreshToken(ctx context.Context, refreshToken string) (*Claims, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}

	claims, err := ParseClaims(refreshToken, s.config.RefreshTokenSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}

	if claims.Type != RefreshToken {
		return nil, fmt.Errorf("%w: wrong token type %q", ErrInvalidRefreshToken, claims.Type)
	}

	if _, found := s.revoked.Get(claims.ID); found {
		return nil, fmt.Errorf("%w: token revoked", ErrInvalidRefreshToken)
	}

	return claims, nil
}

func (s *AuthService) generateTokenPair(user *users.User) (*TokenPair, error) {
	accessToken, err := s.newToken(user, AccessToken, s.config.AccessTokenSecret, s.config.AccessTokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	refreshToken, err := s.newToken(user, RefreshToken, s.config.RefreshTokenSecret, s.config.RefreshTokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *AuthService) newToken(user *users.User, tokenType AuthTokenType, secret string, expiry time.Duration) (string, error) {
	var expiryTime *jwt.NumericDate
	if expiry > 0 {
		expiryTime = jwt.NewNumericDate(time.Now().Add(expiry))
	}

	claims := Claims{
		Type:   tokenType,
		UserID: user.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.Username,
			Issuer:    s.config.TokenIssuer,
			ExpiresAt: expiryTime,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
