// Package config loads and validates the dispatcher configuration. Defaults
// apply first, a YAML file overrides them, and the server's flags override
// both.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/godnc/pkg/model"
)

// ServerConfig holds configuration for the REST server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`       // Listen address (default ":8080")
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
}

// SchedulingConfig holds the scheduler knobs. Intervals are in seconds,
// matching the config files operators already maintain.
type SchedulingConfig struct {
	Strategy             string `yaml:"strategy"`
	CheckIntervalSeconds int    `yaml:"check_interval"`
	MaxRetries           int    `yaml:"max_retries"`
	LoadWindowMinutes    int    `yaml:"load_window"`
}

// CheckInterval returns the cycle interval as a duration.
func (c SchedulingConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// LoadWindow returns the LOAD_BALANCE trailing window as a duration.
func (c SchedulingConfig) LoadWindow() time.Duration {
	return time.Duration(c.LoadWindowMinutes) * time.Minute
}

// ProtocolConfig holds the machine transport knobs.
type ProtocolConfig struct {
	RequestTimeoutSeconds     int `yaml:"request_timeout"`
	ReconnectMaxAttempts      int `yaml:"reconnect_max_attempts"`
	ReconnectBaseDelaySeconds int `yaml:"reconnect_base_delay"`
}

// RequestTimeout returns the per-request timeout as a duration.
func (c ProtocolConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ReconnectBaseDelay returns the first backoff delay as a duration.
func (c ProtocolConfig) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseDelaySeconds) * time.Second
}

// MachineConfig describes one configured machine tool.
type MachineConfig struct {
	ID       string `yaml:"id"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Enabled  *bool  `yaml:"enabled"`
	Material string `yaml:"material"`
}

// IsEnabled reports whether the machine takes part in scheduling. Machines
// are enabled unless the config says otherwise.
func (m MachineConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// MaterialsConfig holds the material table: a mapping file of material to
// group plus the pairwise group changeover cost matrix.
type MaterialsConfig struct {
	TablePath string                        `yaml:"table_path"`
	Costs     map[string]map[string]float64 `yaml:"changeover_costs"`
}

// Config is the full dispatcher configuration.
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Scheduling  SchedulingConfig `yaml:"scheduling"`
	Protocol    ProtocolConfig   `yaml:"protocol"`
	Machines    []MachineConfig  `yaml:"machines"`
	Materials   MaterialsConfig  `yaml:"materials"`
	ArchivePath string           `yaml:"archive_path"`
}

// Default returns the shipped defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:      ":8080",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Scheduling: SchedulingConfig{
			Strategy:             string(model.StrategyMaterialFirst),
			CheckIntervalSeconds: 10,
			MaxRetries:           3,
			LoadWindowMinutes:    10,
		},
		Protocol: ProtocolConfig{
			RequestTimeoutSeconds:     5,
			ReconnectMaxAttempts:      5,
			ReconnectBaseDelaySeconds: 1,
		},
	}
}

// Load reads path on top of the defaults and validates the result. An empty
// path returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, &model.ConfigError{Msg: fmt.Sprintf("parse %s: %v", path, err)}
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the dispatcher cannot run with.
func (c *Config) Validate() error {
	if _, err := model.ParseStrategy(c.Scheduling.Strategy); err != nil {
		return err
	}
	if c.Scheduling.CheckIntervalSeconds <= 0 {
		return &model.ConfigError{Msg: "scheduling.check_interval must be positive"}
	}
	if c.Scheduling.MaxRetries < 0 {
		return &model.ConfigError{Msg: "scheduling.max_retries must not be negative"}
	}
	if c.Protocol.RequestTimeoutSeconds <= 0 {
		return &model.ConfigError{Msg: "protocol.request_timeout must be positive"}
	}

	seen := make(map[string]bool, len(c.Machines))
	for i, m := range c.Machines {
		if m.ID == "" {
			return &model.ConfigError{Msg: fmt.Sprintf("machines[%d]: missing id", i)}
		}
		if seen[m.ID] {
			return &model.ConfigError{Msg: "duplicate machine id " + m.ID}
		}
		seen[m.ID] = true
		if m.Host == "" {
			return &model.ConfigError{Msg: "machine " + m.ID + ": missing host"}
		}
		if m.Port <= 0 || m.Port > 65535 {
			return &model.ConfigError{Msg: fmt.Sprintf("machine %s: invalid port %d", m.ID, m.Port)}
		}
	}
	return nil
}
