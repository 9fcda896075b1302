package auth

import "errors"

var (
	ErrInvalidCredentials  = errors.New("auth: invalid username or password")
	ErrInvalidToken        = errors.New("auth: invalid token")
	ErrInvalidAccessToken  = errors.New("auth: invalid access token")
	ErrInvalidRefreshToken = errors.New("auth: invalid refresh token")
	ErrAccountDisabled     = errors.New("auth: account disabled")
)

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
