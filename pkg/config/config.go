package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the environment nor the config file sets a
// value.
const (
	DefaultModelVersion      = "v1.0.0"
	DefaultAccuracyThreshold = 0.8
	DefaultMaxRetries        = 1
	DefaultScheduleAt        = "03:00"
)

// Config holds the application configuration.
type Config struct {
	// ModelVersion tags the model being retrained and deployed.
	ModelVersion string

	// Telegram credentials. Both optional: when either is missing the
	// notifier degrades to a local log line.
	TelegramToken  string
	TelegramChatID string

	// AccuracyThreshold gates deployment (accuracy >= threshold deploys).
	AccuracyThreshold float64

	// MaxRetries is the number of extra attempts a task gets after its
	// first failure.
	MaxRetries int

	// ScheduleAt is the daily trigger time in UTC, "HH:MM".
	ScheduleAt string

	// HistoryDir is where run records are written. Empty disables history.
	HistoryDir string

	ConfigDir string
}

// FileConfig represents the structure of ~/.retrainflow/config.yaml.
type FileConfig struct {
	ModelVersion      string         `yaml:"model_version"`
	Telegram          TelegramConfig `yaml:"telegram"`
	AccuracyThreshold *float64       `yaml:"accuracy_threshold"`
	MaxRetries        *int           `yaml:"max_retries"`
	ScheduleAt        string         `yaml:"schedule_at"`
	HistoryDir        string         `yaml:"history_dir"`
}

// TelegramConfig holds messaging credentials from file.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chat_id"`
}

// Load reads configuration from the default config file and environment
// variables. Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return build(loadFileConfig(filepath.Join(configDir, "config.yaml")), configDir)
}

// LoadFile loads configuration from a specific file, still honoring
// environment overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	fc := &FileConfig{}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return build(fc, filepath.Dir(path))
}

func build(fc *FileConfig, configDir string) (*Config, error) {
	cfg := &Config{
		ModelVersion:      getEnvOrDefault("MODEL_VERSION", fc.ModelVersion),
		TelegramToken:     getEnvOrDefault("TELEGRAM_TOKEN", fc.Telegram.Token),
		TelegramChatID:    getEnvOrDefault("TELEGRAM_CHAT_ID", fc.Telegram.ChatID),
		AccuracyThreshold: DefaultAccuracyThreshold,
		MaxRetries:        DefaultMaxRetries,
		ScheduleAt:        fc.ScheduleAt,
		HistoryDir:        fc.HistoryDir,
		ConfigDir:         configDir,
	}

	if cfg.ModelVersion == "" {
		cfg.ModelVersion = DefaultModelVersion
	}
	if fc.AccuracyThreshold != nil {
		cfg.AccuracyThreshold = *fc.AccuracyThreshold
	}
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if cfg.ScheduleAt == "" {
		cfg.ScheduleAt = DefaultScheduleAt
	}
	if cfg.HistoryDir == "" {
		cfg.HistoryDir = filepath.Join(configDir, "runs")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and formats.
func (c *Config) Validate() error {
	if c.AccuracyThreshold < 0 || c.AccuracyThreshold > 1 {
		return fmt.Errorf("accuracy_threshold %v outside [0,1]", c.AccuracyThreshold)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if _, _, err := c.ScheduleTime(); err != nil {
		return err
	}
	return nil
}

// HasTelegram reports whether both notification credentials are set.
func (c *Config) HasTelegram() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// ScheduleTime parses ScheduleAt into an hour and minute, both UTC.
func (c *Config) ScheduleTime() (hour, minute int, err error) {
	parse := func(s string, max int) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > max {
			return 0, fmt.Errorf("schedule_at %q is not HH:MM", c.ScheduleAt)
		}
		return n, nil
	}
	if len(c.ScheduleAt) != 5 || c.ScheduleAt[2] != ':' {
		return 0, 0, fmt.Errorf("schedule_at %q is not HH:MM", c.ScheduleAt)
	}
	if hour, err = parse(c.ScheduleAt[:2], 23); err != nil {
		return 0, 0, err
	}
	if minute, err = parse(c.ScheduleAt[3:], 59); err != nil {
		return 0, 0, err
	}
	return hour, minute, nil
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) *FileConfig {
	fc := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return fc // Return empty config if file doesn't exist
	}

	_ = yaml.Unmarshal(data, fc) // Ignore parse errors, use defaults
	return fc
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".retrainflow")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
