package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from file and environment.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a config loader. An empty configPath falls back to the
// default search locations.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "PAYSYNC",
	}
}

// Load reads configuration from file and environment. Environment variables
// use the PAYSYNC_ prefix with underscores, e.g. PAYSYNC_LOG_LEVEL=debug or
// PAYSYNC_API_BASE_URL=https://api.example.com.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()

	cfg := DefaultConfig()
	bindDefaults(v, cfg)

	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", l.configPath, err)
		}
	} else {
		v.SetConfigName("paysync")
		v.SetConfigType("yaml")
		for _, dir := range defaultSearchDirs() {
			v.AddConfigPath(dir)
		}

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			// No file found; defaults plus environment apply.
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// bindDefaults registers defaults so viper resolves env overrides for every key.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.stream_url", cfg.API.StreamURL)
	v.SetDefault("api.client_id", cfg.API.ClientID)
	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("api.max_retries", cfg.API.MaxRetries)
	v.SetDefault("api.user_agent", cfg.API.UserAgent)

	v.SetDefault("stream.reconnect_delay", cfg.Stream.ReconnectDelay)
	v.SetDefault("stream.max_reconnect_delay", cfg.Stream.MaxReconnectDelay)
	v.SetDefault("stream.ping_interval", cfg.Stream.PingInterval)
	v.SetDefault("stream.pong_timeout", cfg.Stream.PongTimeout)
	v.SetDefault("stream.auto_sync", cfg.Stream.AutoSync)

	v.SetDefault("sync.command_timeout", cfg.Sync.CommandTimeout)
	v.SetDefault("sync.confirm_results", cfg.Sync.ConfirmResults)

	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	v.SetDefault("storage.state_file", cfg.Storage.StateFile)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.color", cfg.Log.Color)
}

// defaultSearchDirs returns default config file locations.
func defaultSearchDirs() []string {
	dirs := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(homeDir, ".config", "paysync"),
			filepath.Join(homeDir, ".paysync"),
		)
	}

	return dirs
}
