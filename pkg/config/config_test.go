package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	customConfigPath := filepath.Join(tempDir, "custom", "path", "config.toml")

	require.NoError(t, Init(customConfigPath))

	assert.Equal(t, filepath.Join(tempDir, "custom", "path"), GetConfigDir())
	assert.Equal(t, customConfigPath, GetConfigFilePath())

	_, err := os.Stat(GetConfigDir())
	assert.NoError(t, err, "config directory should be created")
}

func TestDefaults(t *testing.T) {
	require.NoError(t, Init(filepath.Join(t.TempDir(), "config.toml")))

	rt := RealtimeSettings()
	assert.Equal(t, "websocket", rt.Transport)
	assert.Equal(t, time.Second, rt.Debounce)
	assert.Equal(t, time.Minute, rt.Window)
	assert.Equal(t, 10, rt.MaxInvalidations)

	assert.Equal(t, 50, ResourceSettings().MaxTracked)
	assert.Equal(t, 30*time.Second, APISettings().Timeout)
	assert.Equal(t, time.Hour, StorageSettings().SignedURLTTL)
	assert.Equal(t, 200*time.Millisecond, UploadSettings().Tick)
	assert.Equal(t, time.Duration(0), LedgerSettings().Retain)

	tel := TelemetrySettings()
	assert.False(t, tel.Enabled)
	assert.Equal(t, "localhost:4318", tel.Endpoint)
	assert.Equal(t, 1.0, tel.SamplingRate)
}

func TestUserConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[realtime]\ntransport = \"redis\"\nmax_invalidations = 3\n\n[api]\nbase_url = \"https://api.sidechain.live\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	require.NoError(t, Init(path))

	assert.Equal(t, "redis", RealtimeSettings().Transport)
	assert.Equal(t, 3, RealtimeSettings().MaxInvalidations)
	assert.Equal(t, "https://api.sidechain.live", APISettings().BaseURL)
	// untouched keys keep their defaults
	assert.Equal(t, time.Second, RealtimeSettings().Debounce)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("SIDECHAIN_REALTIME_DEBOUNCE_MS", "250")

	require.NoError(t, Init(filepath.Join(t.TempDir(), "config.toml")))

	assert.Equal(t, 250*time.Millisecond, RealtimeSettings().Debounce)
}

func TestSetStringPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Init(path))

	require.NoError(t, SetString("realtime.transport", "postgres"))

	require.NoError(t, Init(path))
	assert.Equal(t, "postgres", GetString("realtime.transport"))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "logs/sync.log"), expandPath("~/logs/sync.log"))
	assert.Equal(t, "/var/log/sync.log", expandPath("/var/log/sync.log"))
	assert.Equal(t, "", expandPath(""))
}
