// Package bot wires the support engine, content bundles, and analytics store
// into a runnable Telegram application.
package bot

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coreconfig "github.com/m3rciful/supportbot/core/config"
	coredatabase "github.com/m3rciful/supportbot/core/database"
)

// SupportConfig tunes the escalation reminder loop.
type SupportConfig struct {
	ReminderSeconds int `yaml:"reminder_seconds" envconfig:"SUPPORT_REMINDER_SECONDS"`
	ReminderMax     int `yaml:"reminder_max" envconfig:"SUPPORT_REMINDER_MAX"`
}

// ContentConfig locates the language bundles.
type ContentConfig struct {
	Dir             string `yaml:"dir" envconfig:"CONTENT_DIR"`
	DefaultLanguage string `yaml:"default_language" envconfig:"DEFAULT_LANGUAGE"`
}

// AnalyticsConfig tunes reporting.
type AnalyticsConfig struct {
	WindowDays int `yaml:"window_days" envconfig:"ANALYTICS_WINDOW_DAYS"`
	// DigestCron is a 5-field cron spec for the admin stats digest.
	// Empty disables the digest.
	DigestCron string `yaml:"digest_cron" envconfig:"ANALYTICS_DIGEST_CRON"`
}

// Config aggregates core settings with the bot's own sections.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database  coredatabase.Config `yaml:"database"`
	Support   SupportConfig       `yaml:"support"`
	Content   ContentConfig       `yaml:"content"`
	Analytics AnalyticsConfig     `yaml:"analytics"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return nil, err
	}
	if err := normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func normalize(cfg *Config) error {
	if cfg.Telegram.AdminID == 0 {
		return fmt.Errorf("telegram.admin_id is required")
	}
	if cfg.Support.ReminderSeconds <= 0 {
		cfg.Support.ReminderSeconds = 600
	}
	if cfg.Support.ReminderMax <= 0 {
		cfg.Support.ReminderMax = 3
	}
	if cfg.Content.Dir == "" {
		cfg.Content.Dir = "content"
	}
	if cfg.Content.DefaultLanguage == "" {
		cfg.Content.DefaultLanguage = "en"
	}
	if cfg.Analytics.WindowDays <= 0 {
		cfg.Analytics.WindowDays = 7
	}
	return nil
}
