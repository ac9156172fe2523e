// Package batch runs evaluation batches on cron schedules.
package batch

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

// BatchConfig represents a scheduled batch configuration
type BatchConfig struct {
	Name             string `toml:"name"`
	Cron             string `toml:"cron"`
	Strategy         string `toml:"strategy"`
	Limit            int    `toml:"limit"`
	Workers          int    `toml:"workers"`
	MaxDurationMin   int    `toml:"max_duration_min"`
	Retry            bool   `toml:"retry"`
	NotifyOnComplete bool   `toml:"notify_on_complete"`
}

// ScheduleConfig holds all batch configurations. It lives in the main
// config file as [[batch]] tables.
type ScheduleConfig struct {
	Batches []BatchConfig `toml:"batch"`
}

// MaxDuration bounds one run of the batch
func (c BatchConfig) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationMin) * time.Minute
}

// Validate checks if the config is valid and fills defaults
func (c *BatchConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("batch name is required")
	}
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if c.Strategy == "" {
		c.Strategy = string(domain.StrategyPlanSolve)
	}
	if _, err := domain.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.MaxDurationMin <= 0 {
		c.MaxDurationMin = 8 * 60
	}
	return nil
}

// LoadScheduleConfig loads batch configuration from a TOML file
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScheduleConfig{}, nil
		}
		return nil, err
	}

	var cfg ScheduleConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Validate all batches
	for i := range cfg.Batches {
		if err := cfg.Batches[i].Validate(); err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
	}

	return &cfg, nil
}
