// Package config centralises configuration parsing for the sync core.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kimhsiao/fieldsync/backend/internal/crypto"
)

// Config captures runtime configuration values.
type Config struct {
	Database     DatabaseConfig
	Backend      BackendConfig
	Sync         SyncConfig
	Connectivity ConnectivityConfig
	Diagnostics  DiagnosticsConfig
	Log          LogConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// BackendConfig describes the remote service mutations are applied to.
type BackendConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	HealthPath string `mapstructure:"health_path"`
	// Token may be sealed with crypto.SealToken; it is opened with
	// TokenPassphrase on load.
	Token           string
	TokenPassphrase string `mapstructure:"token_passphrase"`
}

// SyncConfig holds scheduler tuning.
type SyncConfig struct {
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	GracePeriod        time.Duration `mapstructure:"grace_period"`
	UploadTimeout      time.Duration `mapstructure:"upload_timeout"`
	DefaultMaxAttempts int           `mapstructure:"default_max_attempts"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	BackoffMax         time.Duration `mapstructure:"backoff_max"`
}

// ConnectivityConfig controls the reachability prober.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

// DiagnosticsConfig controls the local status server.
type DiagnosticsConfig struct {
	Address string
}

// LogConfig controls log verbosity.
type LogConfig struct {
	Level string
}

// Load reads configuration from file and env. Env var overrides use prefix FIELDSYNC_.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("FIELDSYNC_CONFIG"))
}

// LoadFrom reads configuration from cfgPath, or from the default search
// path when cfgPath is empty. A missing default file is not an error.
func LoadFrom(cfgPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")

	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "fieldsync"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("FIELDSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	token, err := crypto.OpenToken(c.Backend.Token, c.Backend.TokenPassphrase)
	if err != nil {
		return Config{}, fmt.Errorf("open backend.token: %w", err)
	}
	c.Backend.Token = token
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "fieldsync", "fieldsync.db"))
	v.SetDefault("backend.base_url", "http://localhost:8080")
	v.SetDefault("backend.health_path", "/healthz")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.token_passphrase", "")
	v.SetDefault("sync.settle_delay", 2*time.Second)
	v.SetDefault("sync.grace_period", 5*time.Second)
	v.SetDefault("sync.upload_timeout", 30*time.Second)
	v.SetDefault("sync.default_max_attempts", 5)
	v.SetDefault("sync.backoff_base", time.Duration(0))
	v.SetDefault("sync.backoff_max", time.Hour)
	v.SetDefault("connectivity.probe_interval", 10*time.Second)
	v.SetDefault("connectivity.probe_timeout", 3*time.Second)
	v.SetDefault("diagnostics.address", "127.0.0.1:8091")
	v.SetDefault("log.level", "info")
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must be set")
	}
	if c.Sync.UploadTimeout <= 0 {
		return fmt.Errorf("sync.upload_timeout must be positive, got %s", c.Sync.UploadTimeout)
	}
	if c.Sync.SettleDelay < 0 {
		return fmt.Errorf("sync.settle_delay must not be negative, got %s", c.Sync.SettleDelay)
	}
	if c.Sync.GracePeriod < 0 {
		return fmt.Errorf("sync.grace_period must not be negative, got %s", c.Sync.GracePeriod)
	}
	if c.Sync.DefaultMaxAttempts < 1 {
		return fmt.Errorf("sync.default_max_attempts must be at least 1, got %d", c.Sync.DefaultMaxAttempts)
	}
	if c.Sync.BackoffBase < 0 || c.Sync.BackoffMax < 0 {
		return fmt.Errorf("sync backoff durations must not be negative")
	}
	if c.Connectivity.ProbeInterval <= 0 {
		return fmt.Errorf("connectivity.probe_interval must be positive, got %s", c.Connectivity.ProbeInterval)
	}
	return nil
}
