package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"focusline/internal/domain"
)

// Config models focusline.yml.
type Config struct {
	App struct {
		ID string `yaml:"id"`
	} `yaml:"app"`
	Insights struct {
		Burnout struct {
			HighHoursPerDay   float64 `yaml:"high_hours_per_day"`
			MediumHoursPerDay float64 `yaml:"medium_hours_per_day"`
			WindowDays        int     `yaml:"window_days"`
		} `yaml:"burnout"`
		Patterns struct {
			MinCompletedSessions int `yaml:"min_completed_sessions"`
		} `yaml:"patterns"`
		Recommendations struct {
			Limit int `yaml:"limit"`
		} `yaml:"recommendations"`
		Durations struct {
			Defaults        map[string]int `yaml:"defaults"`
			FallbackMinutes int            `yaml:"fallback_minutes"`
		} `yaml:"durations"`
	} `yaml:"insights"`
	Queue struct {
		MaxAttempts int    `yaml:"max_attempts"`
		StorageKey  string `yaml:"storage_key"`
	} `yaml:"queue"`
	Remote struct {
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"remote"`
	Connectivity struct {
		ProbeIntervalSeconds int `yaml:"probe_interval_seconds"`
	} `yaml:"connectivity"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with fl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace, appID string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(appID), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.App.ID == "" {
		return fmt.Errorf("config.app.id is required")
	}
	b := c.Insights.Burnout
	if b.HighHoursPerDay <= 0 || b.MediumHoursPerDay <= 0 {
		return fmt.Errorf("config.insights.burnout thresholds must be positive")
	}
	if b.MediumHoursPerDay >= b.HighHoursPerDay {
		return fmt.Errorf("config.insights.burnout.medium_hours_per_day must be below high_hours_per_day")
	}
	if b.WindowDays <= 0 {
		return fmt.Errorf("config.insights.burnout.window_days must be positive")
	}
	if c.Insights.Patterns.MinCompletedSessions <= 0 {
		return fmt.Errorf("config.insights.patterns.min_completed_sessions must be positive")
	}
	if c.Insights.Recommendations.Limit <= 0 {
		return fmt.Errorf("config.insights.recommendations.limit must be positive")
	}
	if c.Insights.Durations.FallbackMinutes <= 0 {
		return fmt.Errorf("config.insights.durations.fallback_minutes must be positive")
	}
	for category, minutes := range c.Insights.Durations.Defaults {
		switch category {
		case domain.CategoryDaily, domain.CategoryWeekly, domain.CategoryProject, domain.CategorySomeday:
		default:
			return fmt.Errorf("config.insights.durations.defaults has unknown category %s", category)
		}
		if minutes <= 0 {
			return fmt.Errorf("default duration for category %s must be positive", category)
		}
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("config.queue.max_attempts must be positive")
	}
	if c.Queue.StorageKey == "" {
		return fmt.Errorf("config.queue.storage_key is required")
	}
	if c.Remote.TimeoutSeconds < 0 {
		return fmt.Errorf("config.remote.timeout_seconds must not be negative")
	}
	if c.Connectivity.ProbeIntervalSeconds < 0 {
		return fmt.Errorf("config.connectivity.probe_interval_seconds must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "focusline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(appID string) string {
	return fmt.Sprintf(defaultTemplate, appID)
}

// Default returns the default Config struct for an app.
func Default(appID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, appID)), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `app:
  id: %s

insights:
  burnout:
    high_hours_per_day: 10
    medium_hours_per_day: 8
    window_days: 7

  patterns:
    min_completed_sessions: 5

  recommendations:
    limit: 3

  durations:
    defaults:
      daily: 15
      weekly: 30
      project: 60
      someday: 45
    fallback_minutes: 30

queue:
  max_attempts: 3
  storage_key: offline_queue

remote:
  base_url: ""
  timeout_seconds: 10

connectivity:
  probe_interval_seconds: 15
`
