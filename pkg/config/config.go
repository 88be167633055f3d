// Package config provides configuration types and loading for crewmesh.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration. Values are read from an optional YAML
// file, then overridden by CREWMESH_* environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Routing   RoutingConfig   `yaml:"routing"`
	Learning  LearningConfig  `yaml:"learning"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr         string        `yaml:"addr" envconfig:"ADDR"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	AuthSecret   string        `yaml:"auth_secret" envconfig:"AUTH_SECRET"` // empty disables auth
}

// DatabaseConfig configures the durable store.
type DatabaseConfig struct {
	Type string `yaml:"type" envconfig:"DB_TYPE"` // "sqlite" or "postgres"
	Path string `yaml:"path" envconfig:"DB_PATH"` // for sqlite
	DSN  string `yaml:"dsn" envconfig:"DB_DSN"`   // for postgres
}

// BroadcastConfig selects the ephemeral broadcast backend.
type BroadcastConfig struct {
	Backend  string        `yaml:"backend" envconfig:"BROADCAST_BACKEND"` // "local", "nats", "redis"
	NATSURL  string        `yaml:"nats_url" envconfig:"NATS_URL"`
	RedisURL string        `yaml:"redis_url" envconfig:"REDIS_URL"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"BROADCAST_TIMEOUT"`
}

// RoutingConfig holds router tunables.
type RoutingConfig struct {
	// LoadPenaltyWeight scales the linear part of the load penalty.
	LoadPenaltyWeight float64 `yaml:"load_penalty_weight" envconfig:"LOAD_PENALTY_WEIGHT"`
	// SendRetries bounds durable assignment-delivery attempts.
	SendRetries uint `yaml:"send_retries" envconfig:"SEND_RETRIES"`
}

// LearningConfig holds pattern-miner and improvement-generator tunables.
// These are the only values the hot-reload watcher may change at runtime.
type LearningConfig struct {
	TimeoutThreshold  time.Duration `yaml:"timeout_threshold" envconfig:"TIMEOUT_THRESHOLD"`
	TrendWindow       int           `yaml:"trend_window" envconfig:"TREND_WINDOW"`
	VarianceThreshold float64       `yaml:"variance_threshold" envconfig:"VARIANCE_THRESHOLD"`
	LowUtilization    float64       `yaml:"low_utilization" envconfig:"LOW_UTILIZATION"`
	SweepSchedule     string        `yaml:"sweep_schedule" envconfig:"SWEEP_SCHEDULE"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8087",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "crewmesh.db",
		},
		Broadcast: BroadcastConfig{
			Backend: "local",
			NATSURL: "nats://localhost:4222",
			Timeout: 10 * time.Second,
		},
		Routing: RoutingConfig{
			LoadPenaltyWeight: 0.3,
			SendRetries:       4,
		},
		Learning: LearningConfig{
			TimeoutThreshold:  5 * time.Minute,
			TrendWindow:       20,
			VarianceThreshold: 0.15,
			LowUtilization:    0.2,
			SweepSchedule:     "@daily",
		},
	}
}

// Load reads configuration from path (optional; missing file is not an
// error) and applies CREWMESH_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process("crewmesh", cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	switch c.Broadcast.Backend {
	case "local", "nats", "redis":
	default:
		return fmt.Errorf("unsupported broadcast.backend %q", c.Broadcast.Backend)
	}

	if c.Learning.TrendWindow <= 0 {
		return fmt.Errorf("learning.trend_window must be positive")
	}
	if c.Learning.TimeoutThreshold <= 0 {
		return fmt.Errorf("learning.timeout_threshold must be positive")
	}
	return nil
}
