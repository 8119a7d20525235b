// Package config handles application configuration management.
// It supports YAML files, an optional .env file and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/liminalpurple/stegmeter/internal/logging"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig   `mapstructure:"server" yaml:"server"`
	Matrix  MatrixConfig   `mapstructure:"matrix" yaml:"matrix"`
	Storage StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Log     logging.Config `mapstructure:"log" yaml:"log"`
}

// ServerConfig holds settings for the steganography service
type ServerConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// EstimateTimeout bounds the capacity lookup; past it the client estimate stands.
	EstimateTimeout time.Duration `mapstructure:"estimate_timeout" yaml:"estimate_timeout"`
}

// MatrixConfig holds Matrix connection settings
type MatrixConfig struct {
	Homeserver  string `mapstructure:"homeserver" yaml:"homeserver"`
	UserID      string `mapstructure:"user_id" yaml:"user_id"`
	DeviceID    string `mapstructure:"device_id" yaml:"device_id"`
	AccessToken string `mapstructure:"access_token" yaml:"access_token"`
	NextBatch   string `mapstructure:"next_batch" yaml:"next_batch"`
}

// Configured reports whether Matrix credentials are present
func (m MatrixConfig) Configured() bool {
	return m.Homeserver != "" && m.UserID != "" && m.AccessToken != ""
}

// StorageConfig holds storage settings
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

const (
	DefaultBaseURL         = "http://localhost:8080"
	DefaultTimeout         = 10 * time.Second
	DefaultEstimateTimeout = 5 * time.Second
)

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	// A .env file is optional; a missing one is not an error
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	return load(true)
}

// Update applies fn to the configuration as stored in the config file and
// saves it. Environment variables and command-line overrides are not read,
// so they are never written back.
func Update(fn func(*Config)) error {
	cfg, err := load(false)
	if err != nil {
		return err
	}
	fn(cfg)
	return Save(cfg)
}

func load(withEnv bool) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.base_url", DefaultBaseURL)
	v.SetDefault("server.timeout", DefaultTimeout)
	v.SetDefault("server.estimate_timeout", DefaultEstimateTimeout)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	// Determine config directory
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine config directory: %w", err)
	}

	// Set default storage directory
	v.SetDefault("storage.data_dir", configDir)

	// Configure viper to read from config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	if withEnv {
		v.AddConfigPath(".")
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if withEnv {
		// Environment variable overrides
		v.SetEnvPrefix("STEGMETER")
		v.AutomaticEnv()

		// Specific env var bindings
		_ = v.BindEnv("server.base_url", "STEGMETER_SERVER_URL")
		_ = v.BindEnv("matrix.access_token", "MATRIX_ACCESS_TOKEN")
		_ = v.BindEnv("log.level", "STEGMETER_LOG_LEVEL")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Save writes the current configuration to file
func Save(cfg *Config) error {
	configDir, err := getConfigDir()
	if err != nil {
		return fmt.Errorf("failed to determine config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")

	v := viper.New()
	v.Set("server", map[string]any{
		"base_url":         cfg.Server.BaseURL,
		"timeout":          cfg.Server.Timeout.String(),
		"estimate_timeout": cfg.Server.EstimateTimeout.String(),
	})
	v.Set("matrix", cfg.Matrix)
	v.Set("storage", cfg.Storage)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	// Contains the Matrix access token
	if err := os.Chmod(configPath, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	if configDir := os.Getenv("STEGMETER_CONFIG_DIR"); configDir != "" {
		return configDir, nil
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "stegmeter"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, ".config", "stegmeter"), nil
}

// GetConfigDir returns the configuration directory (exported for other packages)
func GetConfigDir() (string, error) {
	return getConfigDir()
}
