// Package config provides configuration loading and management for semplan.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/c360studio/semplan/model"
	"gopkg.in/yaml.v3"
)

// Memory backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
)

// Config represents the complete semplan configuration.
type Config struct {
	Oracle  OracleConfig  `yaml:"oracle"`
	Memory  MemoryConfig  `yaml:"memory"`
	Plan    PlanConfig    `yaml:"plan"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// OracleConfig configures the oracle endpoints and how they are called.
type OracleConfig struct {
	// Roles, endpoints and the default endpoint, merged over the built-in
	// local Ollama registry.
	model.RegistryConfig `yaml:",inline"`

	// Temperature is sent with every call when set.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// Timeout bounds a single oracle call. A cell whose call times out is Absent.
	Timeout time.Duration `yaml:"timeout"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig configures per-endpoint retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// MemoryConfig selects and configures the memory backend.
type MemoryConfig struct {
	// Backend is one of memory, file, sqlite or nats.
	Backend string `yaml:"backend"`
	// Path is the JSON file or SQLite database.
	Path string `yaml:"path"`
	// Match is the recollection strategy: strict, exact or loose.
	Match string `yaml:"match"`
	// NATSURL and Bucket configure the nats backend.
	NATSURL string `yaml:"nats_url"`
	Bucket  string `yaml:"bucket"`
}

// PlanConfig configures plan execution.
type PlanConfig struct {
	// InputMode is how raw inputs become references.
	InputMode string `yaml:"input_mode"`
	// Parallelism > 1 runs independent inferences of a level concurrently.
	Parallelism int `yaml:"parallelism"`
	// Remember is the bullet format written for inputs: json_bullet or bullet.
	Remember string `yaml:"remember"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Oracle: OracleConfig{
			Timeout: 2 * time.Minute,
			Retry: RetryConfig{
				MaxAttempts: 3,
				Backoff:     2 * time.Second,
				MaxBackoff:  30 * time.Second,
			},
		},
		Memory: MemoryConfig{
			Backend: BackendFile,
			Path:    filepath.Join(".semplan", "memory.json"),
			Match:   "strict",
		},
		Plan: PlanConfig{
			InputMode:   "raw_replicate_explanation",
			Parallelism: 1,
			Remember:    "json_bullet",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Oracle.Registry().ToConfig().Validate(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if t := c.Oracle.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("oracle.temperature must be between 0 and 2")
	}
	if c.Oracle.Timeout < 0 {
		return fmt.Errorf("oracle.timeout must not be negative")
	}
	if c.Oracle.Retry.MaxAttempts < 1 {
		return fmt.Errorf("oracle.retry.max_attempts must be at least 1")
	}

	switch c.Memory.Backend {
	case BackendMemory:
	case BackendFile, BackendSQLite:
		if c.Memory.Path == "" {
			return fmt.Errorf("memory.path is required for the %s backend", c.Memory.Backend)
		}
	case BackendNATS:
		if c.Memory.NATSURL == "" {
			return fmt.Errorf("memory.nats_url is required for the nats backend")
		}
	default:
		return fmt.Errorf("unknown memory.backend %q", c.Memory.Backend)
	}
	if !slices.Contains([]string{"", "strict", "exact", "loose"}, c.Memory.Match) {
		return fmt.Errorf("unknown memory.match %q", c.Memory.Match)
	}

	if c.Plan.Parallelism < 0 {
		return fmt.Errorf("plan.parallelism must not be negative")
	}
	if !slices.Contains([]string{"", "json_bullet", "bullet"}, c.Plan.Remember) {
		return fmt.Errorf("unknown plan.remember %q", c.Plan.Remember)
	}
	return nil
}

// Registry builds the oracle registry: the built-in local defaults overlaid
// with the configured roles and endpoints.
func (c *OracleConfig) Registry() *model.Registry {
	r := model.NewDefaultRegistry()
	r.MergeFromConfig(&c.RegistryConfig)
	return r
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	layer, err := readLayer(path)
	if err != nil {
		return nil, err
	}
	config := DefaultConfig()
	config.Merge(layer)
	return config, nil
}

// readLayer decodes a file without defaults so that merging it only
// overrides what the file sets.
func readLayer(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var layer Config
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &layer, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge merges another config into this one. Non-zero values of other win;
// roles and endpoints are merged by name.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	o := other.Oracle
	for name, role := range o.Roles {
		if c.Oracle.Roles == nil {
			c.Oracle.Roles = make(map[string]*model.RoleConfig)
		}
		c.Oracle.Roles[name] = role
	}
	for name, ep := range o.Endpoints {
		if c.Oracle.Endpoints == nil {
			c.Oracle.Endpoints = make(map[string]*model.EndpointConfig)
		}
		c.Oracle.Endpoints[name] = ep
	}
	if o.Defaults != nil {
		c.Oracle.Defaults = o.Defaults
	}
	if o.Temperature != nil {
		c.Oracle.Temperature = o.Temperature
	}
	if o.Timeout != 0 {
		c.Oracle.Timeout = o.Timeout
	}
	if o.Retry.MaxAttempts != 0 {
		c.Oracle.Retry.MaxAttempts = o.Retry.MaxAttempts
	}
	if o.Retry.Backoff != 0 {
		c.Oracle.Retry.Backoff = o.Retry.Backoff
	}
	if o.Retry.MaxBackoff != 0 {
		c.Oracle.Retry.MaxBackoff = o.Retry.MaxBackoff
	}

	m := other.Memory
	if m.Backend != "" {
		c.Memory.Backend = m.Backend
	}
	if m.Path != "" {
		c.Memory.Path = m.Path
	}
	if m.Match != "" {
		c.Memory.Match = m.Match
	}
	if m.NATSURL != "" {
		c.Memory.NATSURL = m.NATSURL
	}
	if m.Bucket != "" {
		c.Memory.Bucket = m.Bucket
	}

	if other.Plan.InputMode != "" {
		c.Plan.InputMode = other.Plan.InputMode
	}
	if other.Plan.Parallelism != 0 {
		c.Plan.Parallelism = other.Plan.Parallelism
	}
	if other.Plan.Remember != "" {
		c.Plan.Remember = other.Plan.Remember
	}

	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}
