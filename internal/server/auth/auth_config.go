package auth

import (
	"fmt"
	"time"
)

type Config struct {
	TokenIssuer        string        `mapstructure:"issuer"`
	AccessTokenSecret  string        `mapstructure:"secret"`
	AccessTokenExpiry  time.Duration `mapstructure:"expiration"`
	RefreshTokenSecret string        `mapstructure:"refresh_secret"`
	RefreshTokenExpiry time.Duration `mapstructure:"refresh_expiration"`
}

func (c *Config) Validate() error {
	if c.TokenIssuer == "" {
		return fmt.Errorf("auth `issuer` is required")
	}
	if c.AccessTokenSecret == "" {
		return fmt.Errorf("auth `secret` is required")
	}
	if c.RefreshTokenSecret == "" {
		return fmt.Errorf("auth `refresh_secret` is required")
	}
	return nil
}
