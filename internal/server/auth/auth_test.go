package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftbox/driftbox/internal/db"
	"github.com/driftbox/driftbox/internal/server/users"
)

func newTestService(t *testing.T) *AuthService {
	t.Helper()

	database, err := db.NewSqliteDB()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	userStore, err := users.NewStore(database)
	require.NoError(t, err)

	return NewAuthService(&Config{
		TokenIssuer:        "driftbox-test",
		AccessTokenSecret:  "access-secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenSecret: "refresh-secret",
		RefreshTokenExpiry: 24 * time.Hour,
	}, userStore)
}

func TestRegisterLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "alice@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NotEqual(t, "hunter22", user.PasswordHash)

	pair, err := svc.Login(ctx, "alice", "hunter22")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	claims, err := svc.ValidateAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, user.UserID, claims.UserID)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "bob", "bob@example.com", "correct")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "bob", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegister_Duplicate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "carol", "carol@example.com", "pw")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "carol", "other@example.com", "pw")
	assert.ErrorIs(t, err, users.ErrAlreadyExists)
}

func TestRefreshRotatesAndRevokes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "dave", "dave@example.com", "pw")
	require.NoError(t, err)

	pair, err := svc.Login(ctx, "dave", "pw")
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, next.AccessToken)

	// the used refresh token is revoked
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "erin", "erin@example.com", "pw")
	require.NoError(t, err)

	pair, err := svc.Login(ctx, "erin", "pw")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, pair.RefreshToken))

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestValidateAccessToken_RejectsRefreshToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "frank", "frank@example.com", "pw")
	require.NoError(t, err)

	pair, err := svc.Login(ctx, "frank", "pw")
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)
}
