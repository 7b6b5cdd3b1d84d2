package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Platform API configuration
	API APIConfig `mapstructure:"api" json:"api"`

	// User event stream behavior
	Stream StreamConfig `mapstructure:"stream" json:"stream"`

	// Sync engine behavior
	Sync SyncConfig `mapstructure:"sync" json:"sync"`

	// Storage paths
	Storage StorageConfig `mapstructure:"storage" json:"storage"`

	// Logging
	Log LogConfig `mapstructure:"log" json:"log"`
}

// APIConfig for platform communication.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url" json:"base_url"`
	StreamURL  string        `mapstructure:"stream_url" json:"stream_url"`
	ClientID   string        `mapstructure:"client_id" json:"client_id"`
	Timeout    time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" json:"max_retries"`
	UserAgent  string        `mapstructure:"user_agent" json:"user_agent"`
}

// StreamConfig for the per-user event stream.
type StreamConfig struct {
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" json:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay" json:"max_reconnect_delay"`
	PingInterval      time.Duration `mapstructure:"ping_interval" json:"ping_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout" json:"pong_timeout"`
	AutoSync          bool          `mapstructure:"auto_sync" json:"auto_sync"`
}

// SyncConfig for synchronization behavior.
type SyncConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout" json:"command_timeout"`
	ConfirmResults bool          `mapstructure:"confirm_results" json:"confirm_results"`
}

// StorageConfig for local file paths.
type StorageConfig struct {
	DataDir   string `mapstructure:"data_dir" json:"data_dir"`
	StateFile string `mapstructure:"state_file" json:"state_file"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // text, json
	File   string `mapstructure:"file" json:"file"`     // Log file path (empty = stdout)
	Color  bool   `mapstructure:"color" json:"color"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".paysync"

	return &Config{
		API: APIConfig{
			BaseURL:    "https://api.fit-pay.com",
			StreamURL:  "wss://api.fit-pay.com/users",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			UserAgent:  "paysync/1.0",
		},
		Stream: StreamConfig{
			ReconnectDelay:    time.Second,
			MaxReconnectDelay: 30 * time.Second,
			PingInterval:      30 * time.Second,
			PongTimeout:       10 * time.Second,
			AutoSync:          true,
		},
		Sync: SyncConfig{
			CommandTimeout: 30 * time.Second,
			ConfirmResults: true,
		},
		Storage: StorageConfig{
			DataDir:   dataDir,
			StateFile: filepath.Join(dataDir, "state.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   "",
			Color:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.StreamURL == "" {
		return errors.New("api.stream_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.Stream.ReconnectDelay <= 0 {
		return errors.New("stream.reconnect_delay must be positive")
	}

	if c.Stream.MaxReconnectDelay < c.Stream.ReconnectDelay {
		return errors.New("stream.max_reconnect_delay must not be less than stream.reconnect_delay")
	}

	if c.Sync.CommandTimeout <= 0 {
		return errors.New("sync.command_timeout must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		filepath.Dir(c.Storage.StateFile),
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
