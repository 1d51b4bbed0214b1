// Package config handles configuration loading for the tracker.
// It supports YAML config files, an optional .env file, and environment
// variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "COSMIC"

// Config represents the complete application configuration.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"    yaml:"source"    json:"source"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard" json:"dashboard"`
	API       APIConfig       `mapstructure:"api"       yaml:"api"       json:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"   json:"logging"`

	// file is the config file that was read, empty when running on defaults.
	file string
}

// SourceConfig holds market-data endpoint settings.
type SourceConfig struct {
	BaseURL    string `mapstructure:"base_url"    yaml:"base_url"    json:"base_url"` // e.g., "https://api.coingecko.com/api/v3"
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	UserAgent  string `mapstructure:"user_agent"  yaml:"user_agent"  json:"user_agent"`
}

// DashboardConfig holds view-state settings.
type DashboardConfig struct {
	TopN int `mapstructure:"top_n" yaml:"top_n" json:"top_n"` // coins shown when no search term is active
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"         json:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"         json:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  json:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format" json:"format"` // "text" or "json"
}

// Addr returns the host:port listen address.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// File returns the path of the config file that was loaded, if any.
func (c *Config) File() string {
	return c.file
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.cosmictracker/config.yaml (home directory)
//  3. /etc/cosmictracker/config.yaml (system)
//
// A .env file in the working directory is loaded first when present.
// Environment variables override config file values.
// Format: COSMIC_<SECTION>_<KEY>, e.g., COSMIC_API_PORT
func Load() (*Config, error) {
	loadDotEnv()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".cosmictracker"))
	v.AddConfigPath("/etc/cosmictracker")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadDotEnv()

	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return decode(v)
}

// Validate checks the configuration for values the application cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source.BaseURL) == "" {
		return fmt.Errorf("source.base_url cannot be empty")
	}
	if c.Source.TimeoutSec <= 0 {
		return fmt.Errorf("source.timeout_sec must be greater than 0")
	}
	if c.Dashboard.TopN < 1 {
		return fmt.Errorf("dashboard.top_n must be at least 1, got %d", c.Dashboard.TopN)
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api.port %d (must be between 1 and 65535)", c.API.Port)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	return nil
}

// newViper builds a viper instance with defaults and env bindings.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.file = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("source.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("source.timeout_sec", 30)
	v.SetDefault("source.user_agent", "cosmictracker/1.0")

	// Dashboard defaults
	v.SetDefault("dashboard.top_n", 5)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// loadDotEnv loads ./.env into the process environment. Missing files are fine;
// variables already set in the environment win.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	_ = godotenv.Load()
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
