package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://api.fit-pay.com", cfg.API.BaseURL)
	assert.Equal(t, "wss://api.fit-pay.com/users", cfg.API.StreamURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, time.Second, cfg.Stream.ReconnectDelay)
	assert.True(t, cfg.Stream.AutoSync)
	assert.True(t, cfg.Sync.ConfirmResults)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.API.BaseURL = "" },
			wantErr: "api.base_url",
		},
		{
			name:    "missing stream url",
			mutate:  func(c *Config) { c.API.StreamURL = "" },
			wantErr: "api.stream_url",
		},
		{
			name:    "non-positive timeout",
			mutate:  func(c *Config) { c.API.Timeout = 0 },
			wantErr: "api.timeout",
		},
		{
			name:    "non-positive reconnect delay",
			mutate:  func(c *Config) { c.Stream.ReconnectDelay = 0 },
			wantErr: "stream.reconnect_delay",
		},
		{
			name: "max reconnect below reconnect",
			mutate: func(c *Config) {
				c.Stream.ReconnectDelay = 10 * time.Second
				c.Stream.MaxReconnectDelay = time.Second
			},
			wantErr: "stream.max_reconnect_delay",
		},
		{
			name:    "non-positive command timeout",
			mutate:  func(c *Config) { c.Sync.CommandTimeout = 0 },
			wantErr: "sync.command_timeout",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmp := t.TempDir()

	cfg := DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(tmp, "data")
	cfg.Storage.StateFile = filepath.Join(tmp, "data", "state.db")
	cfg.Log.File = filepath.Join(tmp, "logs", "paysync.log")

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, cfg.Storage.DataDir)
	assert.DirExists(t, filepath.Dir(cfg.Log.File))
}

func TestLoaderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paysync.yaml")
	content := `
api:
  base_url: https://api.example.com
  client_id: client-1
stream:
  auto_sync: false
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, "client-1", cfg.API.ClientID)
	assert.False(t, cfg.Stream.AutoSync)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset keys keep their defaults.
	assert.Equal(t, "wss://api.fit-pay.com/users", cfg.API.StreamURL)
	assert.Equal(t, 30*time.Second, cfg.Sync.CommandTimeout)
}

func TestLoaderEnvOverride(t *testing.T) {
	t.Setenv("PAYSYNC_LOG_LEVEL", "warn")
	t.Setenv("PAYSYNC_API_BASE_URL", "https://api.test.example.com")

	dir := t.TempDir()
	path := filepath.Join(dir, "paysync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0600))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	// Environment wins over file.
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "https://api.test.example.com", cfg.API.BaseURL)
}

func TestLoaderRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paysync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0600))

	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestLoaderMissingExplicitFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.Error(t, err)
}
