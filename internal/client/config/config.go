// Package config loads and persists the client's client.properties file.
//
// The file is plain "key=value" lines with # comments. It holds the server
// URL, the sync root, the device identity and the credential pair.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/driftbox/driftbox/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigDir  = filepath.Join(home, ".driftbox")
	DefaultConfigPath = filepath.Join(DefaultConfigDir, "client.properties")
	DefaultSyncDir    = filepath.Join(home, "DriftBox")
	DefaultServerURL  = "http://localhost:8080"
)

const (
	DefaultSyncInterval = 30 * time.Second

	keyServerURL    = "server.url"
	keySyncPath     = "sync.path"
	keySyncInterval = "sync.interval"
	keyClientID     = "client.id"
	keyUsername     = "user.username"
	keyAuthToken    = "auth.token"
	keyRefreshToken = "auth.refresh_token"
)

type Config struct {
	ServerURL    string
	SyncPath     string
	SyncInterval time.Duration
	ClientID     string
	Username     string
	AuthToken    string
	RefreshToken string

	// Path is the file this config was loaded from and saves back to.
	Path string
}

func Default() *Config {
	return &Config{
		ServerURL:    DefaultServerURL,
		SyncPath:     DefaultSyncDir,
		SyncInterval: DefaultSyncInterval,
		Path:         DefaultConfigPath,
	}
}

// Load reads path, falling back to defaults for absent keys. A missing file
// is not an error; it yields the default config bound to that path.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.Path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	props, err := parseProperties(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if v, ok := props[keyServerURL]; ok {
		cfg.ServerURL = v
	}
	if v, ok := props[keySyncPath]; ok {
		cfg.SyncPath = v
	}
	if v, ok := props[keySyncInterval]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", keySyncInterval, err)
		}
		cfg.SyncInterval = d
	}
	cfg.ClientID = props[keyClientID]
	cfg.Username = props[keyUsername]
	cfg.AuthToken = props[keyAuthToken]
	cfg.RefreshToken = props[keyRefreshToken]

	return cfg, nil
}

// Save writes the config back to its path. Mode 0600, the file carries
// tokens.
func (c *Config) Save() error {
	if c.Path == "" {
		c.Path = DefaultConfigPath
	}
	if err := utils.EnsureParent(c.Path); err != nil {
		return fmt.Errorf("config: save: %w", err)
	}

	props := map[string]string{
		keyServerURL:    c.ServerURL,
		keySyncPath:     c.SyncPath,
		keySyncInterval: c.SyncInterval.String(),
		keyClientID:     c.ClientID,
		keyUsername:     c.Username,
		keyAuthToken:    c.AuthToken,
		keyRefreshToken: c.RefreshToken,
	}

	if err := utils.WriteFileAtomic(c.Path, formatProperties(props), 0o600); err != nil {
		return fmt.Errorf("config: save %s: %w", c.Path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("config: %s is required", keyServerURL)
	}
	if c.SyncPath == "" {
		return fmt.Errorf("config: %s is required", keySyncPath)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("config: %s must be positive", keySyncInterval)
	}
	return nil
}

// Authenticated reports whether a credential pair is stored.
func (c *Config) Authenticated() bool {
	return c.AuthToken != "" && c.RefreshToken != ""
}

func parseProperties(data []byte) (map[string]string, error) {
	props := make(map[string]string)
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("line %d: missing '='", i+1)
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return props, nil
}

func formatProperties(props map[string]string) []byte {
	keys := make([]string, 0, len(props))
	for k, v := range props {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("# driftbox client configuration\n")
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(props[k])
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}
