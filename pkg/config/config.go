// Package config loads and validates the modelpull configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the CLI and the daemon.
type Config struct {
	Models   ModelsConfig   `mapstructure:"models" yaml:"models"`
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	API      APIConfig      `mapstructure:"api" yaml:"api"`
}

// ModelsConfig controls the on-disk layout and the model catalog.
type ModelsConfig struct {
	// RootDir holds one directory per model id.
	RootDir string `mapstructure:"root_dir" yaml:"root_dir"`
	// ScratchDir holds in-flight archives and partial files.
	ScratchDir string `mapstructure:"scratch_dir" yaml:"scratch_dir"`
	// CatalogPath is the yaml catalog of known model descriptors.
	CatalogPath string `mapstructure:"catalog_path" yaml:"catalog_path"`
	// MetadataDB is the sqlite database recording acquired models.
	MetadataDB string `mapstructure:"metadata_db" yaml:"metadata_db"`
}

// TransferConfig controls the transfer engine.
type TransferConfig struct {
	RetryLimit     int           `mapstructure:"retry_limit" yaml:"retry_limit"`
	BackoffScale   time.Duration `mapstructure:"backoff_scale" yaml:"backoff_scale"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	// AuthToken is sent as a bearer token on every transfer request.
	// Typically supplied via MODELPULL_TRANSFER_AUTH_TOKEN.
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token,omitempty"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// APIConfig controls the daemon's HTTP listener.
type APIConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// DefaultConfigPath returns the standard config location under the user's
// config directory, falling back to the working directory.
func DefaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "modelpull", "config.yaml")
	}
	return "config.yaml"
}

// Load reads the config file at path, applying defaults and MODELPULL_*
// environment overrides. A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("models.root_dir", defaultDataDir("models"))
	v.SetDefault("models.scratch_dir", defaultDataDir("scratch"))
	v.SetDefault("models.catalog_path", defaultDataDir("models.yaml"))
	v.SetDefault("models.metadata_db", defaultDataDir("models.db"))
	v.SetDefault("transfer.retry_limit", 3)
	v.SetDefault("transfer.backoff_scale", 500*time.Millisecond)
	v.SetDefault("transfer.attempt_timeout", 0)
	v.SetDefault("transfer.user_agent", "modelpull/1.0")
	v.SetDefault("transfer.auth_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("api.listen", "127.0.0.1:8815")

	v.SetEnvPrefix("MODELPULL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, fmt.Errorf("error reading config file %s: %w", path, err)
			}
			// Missing file: defaults plus env are good enough.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings for internal consistency.
func (c *Config) Validate() error {
	if c.Models.RootDir == "" {
		return errors.New("models.root_dir is required")
	}
	if c.Models.ScratchDir == "" {
		return errors.New("models.scratch_dir is required")
	}
	if c.Transfer.RetryLimit <= 0 {
		return fmt.Errorf("transfer.retry_limit must be positive, got %d", c.Transfer.RetryLimit)
	}
	if c.Transfer.BackoffScale < 0 {
		return errors.New("transfer.backoff_scale cannot be negative")
	}
	return nil
}

// Save writes the config as yaml to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultDataDir(sub string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".modelpull", sub)
	}
	return filepath.Join(home, ".modelpull", sub)
}
