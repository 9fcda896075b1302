package sdk

import (
	"context"
)

const (
	authRegister = "/auth/register"
	authLogin    = "/auth/login"
	authRefresh  = "/auth/refresh"
	authLogout   = "/auth/logout"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthAPI covers account registration and token lifecycle.
type AuthAPI struct {
	sdk *DriftSDK
}

func newAuthAPI(sdk *DriftSDK) *AuthAPI {
	return &AuthAPI{sdk: sdk}
}

// Register creates a new account. It does not log in; call Login after.
func (a *AuthAPI) Register(ctx context.Context, username, email, password string) (*Account, error) {
	var account *Account

	resp, err := a.sdk.client.R().
		SetContext(ctx).
		SetBody(&registerRequest{Username: username, Email: email, Password: password}).
		SetSuccessResult(&account).
		Post(authRegister)

	if err := handleAPIError(resp, err, "auth register"); err != nil {
		return nil, err
	}

	return account, nil
}

// Login exchanges credentials for a token pair and installs it on the SDK.
func (a *AuthAPI) Login(ctx context.Context, username, password string) (*TokenResponse, error) {
	var tokens *TokenResponse

	resp, err := a.sdk.client.R().
		SetContext(ctx).
		SetBody(&loginRequest{Username: username, Password: password}).
		SetSuccessResult(&tokens).
		Post(authLogin)

	if err := handleAPIError(resp, err, "auth login"); err != nil {
		return nil, err
	}

	a.sdk.SetTokens(tokens.AccessToken, tokens.RefreshToken)
	return tokens, nil
}

// Refresh rotates the token pair using the held refresh token. The old
// refresh token is revoked server side.
func (a *AuthAPI) Refresh(ctx context.Context) (*TokenResponse, error) {
	refreshToken := a.sdk.RefreshToken()
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	var tokens *TokenResponse

	resp, err := a.sdk.client.R().
		SetContext(ctx).
		SetBody(&refreshRequest{RefreshToken: refreshToken}).
		SetSuccessResult(&tokens).
		Post(authRefresh)

	if err := handleAPIError(resp, err, "auth refresh"); err != nil {
		return nil, err
	}

	a.sdk.SetTokens(tokens.AccessToken, tokens.RefreshToken)
	return tokens, nil
}

// Logout revokes the held refresh token and clears local credentials.
func (a *AuthAPI) Logout(ctx context.Context) error {
	refreshToken := a.sdk.RefreshToken()
	if refreshToken == "" {
		return ErrNoRefreshToken
	}

	resp, err := a.sdk.client.R().
		SetContext(ctx).
		SetBody(&refreshRequest{RefreshToken: refreshToken}).
		Post(authLogout)

	if err := handleAPIError(resp, err, "auth logout"); err != nil {
		return err
	}

	a.sdk.clearTokens()
	return nil
}
