package server

import (
	"fmt"
	"time"

	"github.com/driftbox/driftbox/internal/server/auth"
)

const DefaultAddr = "0.0.0.0:8080"

type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Chunking ChunkingConfig `mapstructure:"chunking"`
	Security SecurityConfig `mapstructure:"security"`
}

type HTTPConfig struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type StorageConfig struct {
	BasePath    string `mapstructure:"base_path"`
	DBPath      string `mapstructure:"db_path"`
	MaxFileSize int64  `mapstructure:"max_file_size"`
	ChunkSize   int64  `mapstructure:"chunk_size"`
}

type ChunkingConfig struct {
	MaxConcurrentSessions int `mapstructure:"max_concurrent_sessions"`
	SessionTimeoutHours   int `mapstructure:"session_timeout_hours"`
}

type SecurityConfig struct {
	JWT auth.Config `mapstructure:"jwt"`
}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultAddr
	}
	if c.Storage.BasePath == "" {
		return fmt.Errorf("server `storage.base_path` is required")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("server `storage.db_path` is required")
	}
	if c.Chunking.MaxConcurrentSessions <= 0 {
		c.Chunking.MaxConcurrentSessions = 10
	}
	if c.Chunking.SessionTimeoutHours <= 0 {
		c.Chunking.SessionTimeoutHours = 24
	}
	return c.Security.JWT.Validate()
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Chunking.SessionTimeoutHours) * time.Hour
}
