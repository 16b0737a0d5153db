package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tether.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
[api]
base_url = "https://backoffice.example.com"
refresh_timeout = "3s"

[stream]
transport = "websocket"
base_delay = "250ms"
max_attempts = 8

[logging]
level = "debug"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://backoffice.example.com", cfg.API.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.API.RefreshTimeout.Duration)
	assert.Equal(t, TransportWebSocket, cfg.Stream.Transport)
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.BaseDelay.Duration)
	assert.Equal(t, 8, cfg.Stream.MaxAttempts)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// untouched fields keep their defaults
	assert.Equal(t, "/auth/refresh", cfg.API.RefreshPath)
	assert.Equal(t, 30*time.Second, cfg.Stream.MaxDelay.Duration)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"bad duration":   "[stream]\nbase_delay = \"soon\"\n",
		"bad transport":  "[stream]\ntransport = \"carrier-pigeon\"\n",
		"zero attempts":  "[stream]\nmax_attempts = 0\n",
		"cap below base": "[stream]\nbase_delay = \"10s\"\nmax_delay = \"1s\"\n",
		"relative url":   "[api]\nbase_url = \"backoffice\"\n",
		"not toml":       "[api\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestStreamURL(t *testing.T) {
	cfg := Default()
	cfg.API.BaseURL = "https://backoffice.example.com/base/"
	u, err := cfg.StreamURL()
	require.NoError(t, err)
	assert.Equal(t, "https://backoffice.example.com/notifications/stream", u)

	cfg.Stream.Path = "notifications/stream"
	u, err = cfg.StreamURL()
	require.NoError(t, err)
	assert.Equal(t, "https://backoffice.example.com/base/notifications/stream", u)
}
