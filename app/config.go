package app

import (
	"fmt"
	"strings"

	coreconfig "github.com/m3rciful/remindbot/core/config"
	coredatabase "github.com/m3rciful/remindbot/core/database"
	"github.com/m3rciful/remindbot/core/metrics"
	"github.com/m3rciful/remindbot/core/reminder"
	"github.com/m3rciful/remindbot/core/state"
)

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"METRICS_ENABLED"`
	Listen  string `yaml:"listen" envconfig:"METRICS_LISTEN"`
	Path    string `yaml:"path" envconfig:"METRICS_PATH"`
}

// DialogueConfig tunes the conversation engine.
type DialogueConfig struct {
	MaxSessions        int               `yaml:"max_sessions" envconfig:"DIALOGUE_MAX_SESSIONS"`
	SendTimeoutSeconds int               `yaml:"send_timeout_seconds" envconfig:"DIALOGUE_SEND_TIMEOUT_SECONDS"`
	CancelButton       string            `yaml:"cancel_button"`
	Messages           reminder.Messages `yaml:"messages" ignored:"true"`
}

// Config is the full bot configuration: the core sections plus the
// reminder-specific ones.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config `yaml:"database"`
	Metrics  MetricsConfig       `yaml:"metrics"`
	Dialogue DialogueConfig      `yaml:"dialogue"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// LoadConfig reads path, overlays the environment and normalizes the result.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.ReadFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates every section and fills defaults.
func (c *Config) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}
	if err := c.Database.Normalize(); err != nil {
		return err
	}

	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Listen) == "" {
		c.Metrics.Listen = ":9090"
	}
	if strings.TrimSpace(c.Metrics.Path) == "" {
		c.Metrics.Path = metrics.DefaultPath
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/'")
	}

	if c.Dialogue.MaxSessions < 0 {
		return fmt.Errorf("dialogue.max_sessions must be >= 0")
	}
	if c.Dialogue.MaxSessions == 0 {
		c.Dialogue.MaxSessions = state.DefaultMaxSessions
	}
	if c.Dialogue.SendTimeoutSeconds < 0 {
		return fmt.Errorf("dialogue.send_timeout_seconds must be >= 0")
	}
	c.Dialogue.Messages = c.Dialogue.Messages.WithDefaults()
	return nil
}
