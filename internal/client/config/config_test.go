package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.properties")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, DefaultSyncInterval, cfg.SyncInterval)
	assert.Equal(t, path, cfg.Path)
	assert.False(t, cfg.Authenticated())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.properties")

	cfg := Default()
	cfg.Path = path
	cfg.ServerURL = "https://sync.example.com"
	cfg.SyncPath = "/data/box"
	cfg.SyncInterval = 45 * time.Second
	cfg.ClientID = "abc123"
	cfg.Username = "alice"
	cfg.AuthToken = "at"
	cfg.RefreshToken = "rt"
	require.NoError(t, cfg.Save())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://sync.example.com", loaded.ServerURL)
	assert.Equal(t, "/data/box", loaded.SyncPath)
	assert.Equal(t, 45*time.Second, loaded.SyncInterval)
	assert.Equal(t, "abc123", loaded.ClientID)
	assert.Equal(t, "alice", loaded.Username)
	assert.True(t, loaded.Authenticated())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestParsePropertiesSkipsCommentsAndBlanks(t *testing.T) {
	props, err := parseProperties([]byte("# comment\n\nserver.url = http://x\n! old style comment\nuser.username=bob\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://x", props["server.url"])
	assert.Equal(t, "bob", props["user.username"])
	assert.Len(t, props, 2)
}

func TestParsePropertiesRejectsMalformedLine(t *testing.T) {
	_, err := parseProperties([]byte("server.url http://x"))
	assert.Error(t, err)
}

func TestEmptyValuesAreNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.properties")

	cfg := Default()
	cfg.Path = path
	require.NoError(t, cfg.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "auth.token")
	assert.NotContains(t, string(data), "client.id")
}
