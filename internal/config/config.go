package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration for clinicore
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string   `mapstructure:"address"`
	Port         int      `mapstructure:"port"`
	ReadTimeout  int      `mapstructure:"read_timeout"`
	WriteTimeout int      `mapstructure:"write_timeout"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// StorageConfig holds record store settings
type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	BadgerPath   string `mapstructure:"badger_path"`
	AuditPath    string `mapstructure:"audit_path"`
	FlushDelayMs int    `mapstructure:"flush_delay_ms"`
}

// UpstreamConfig holds settings for the remote clinical API
type UpstreamConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	Timeout           int    `mapstructure:"timeout"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
	BreakerFailures   int    `mapstructure:"breaker_failures"`
	BreakerCooldown   int    `mapstructure:"breaker_cooldown"`
}

// SnapshotConfig holds document export settings
type SnapshotConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Dir      string `mapstructure:"dir"`
	Schedule string `mapstructure:"schedule"`
	Keep     int    `mapstructure:"keep"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	configPath = expandPath(configPath)
	dataDir = expandPath(dataDir)
	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))
	v.SetDefault("storage.audit_path", filepath.Join(dataDir, "audit.db"))
	v.SetDefault("snapshot.dir", filepath.Join(dataDir, "snapshots"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "clinicore.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (CLINICORE_SERVER_PORT, CLINICORE_UPSTREAM_BASE_URL, ...)
	v.SetEnvPrefix("CLINICORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Watch reloads the config file on change and hands the fresh value to
// onChange. Only settings read per-request (upstream limits, snapshot
// retention) take effect without a restart.
func Watch(configPath string, logger *zap.Logger, onChange func(*Config)) {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		logger.Warn("Config watch disabled", zap.Error(err))
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			logger.Warn("Ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("Configuration reloaded", zap.String("file", e.Name))
		onChange(&cfg)
	})
	v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.allow_origins", []string{"*"})

	// Storage defaults
	v.SetDefault("storage.flush_delay_ms", 500)

	// Upstream defaults
	v.SetDefault("upstream.timeout", 30)
	v.SetDefault("upstream.requests_per_minute", 300)
	v.SetDefault("upstream.burst", 20)
	v.SetDefault("upstream.breaker_failures", 5)
	v.SetDefault("upstream.breaker_cooldown", 30)

	// Snapshot defaults
	v.SetDefault("snapshot.enabled", true)
	v.SetDefault("snapshot.schedule", "0 3 * * *")
	v.SetDefault("snapshot.keep", 14)
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "clinicore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "clinicore")
}

// loadEnvOverrides loads specific env vars that Viper doesn't pick up
// reliably with AutomaticEnv
func loadEnvOverrides(cfg *Config) {
	cfg.Server.Address = GetEnvDefault("CLINICORE_SERVER_ADDRESS", cfg.Server.Address)
	if port := os.Getenv("CLINICORE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	cfg.Storage.DataDir = GetEnvDefault("CLINICORE_STORAGE_DATA_DIR", cfg.Storage.DataDir)
	cfg.Upstream.BaseURL = GetEnvDefault("CLINICORE_UPSTREAM_BASE_URL", cfg.Upstream.BaseURL)
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Storage.FlushDelayMs < 0 {
		return fmt.Errorf("storage.flush_delay_ms must not be negative")
	}
	if cfg.Snapshot.Keep < 0 {
		return fmt.Errorf("snapshot.keep must not be negative")
	}
	if cfg.Upstream.BaseURL != "" && !strings.HasPrefix(cfg.Upstream.BaseURL, "http") {
		return fmt.Errorf("upstream.base_url must be an http(s) URL")
	}
	return nil
}
