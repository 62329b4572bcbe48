// Package config provides YAML-based configuration loading for the GPU
// scheduler daemon.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration, loaded from nebula.yaml.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Vram      VramConfig      `yaml:"vram"`
	Nodes     []NodeConfig    `yaml:"nodes"`
}

// DatabaseConfig holds connection settings for the MySQL server.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// SchedulerConfig holds queue and claim tuning knobs.
type SchedulerConfig struct {
	DefaultPriority int `yaml:"default_priority"`
	ClaimLookahead  int `yaml:"claim_lookahead"`
	WaitWindow      int `yaml:"wait_window"` // completed jobs in the avg-wait sample
}

// VramConfig holds reservation-lock settings.
type VramConfig struct {
	LockTTLMinutes int    `yaml:"lock_ttl_minutes"`
	CleanupCron    string `yaml:"cleanup_cron"` // 5-field cron expression
}

// NodeConfig defines one GPU node in the static registry.
type NodeConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Enabled *bool  `yaml:"enabled"` // nil means enabled
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Name == "" {
		c.Database.Name = "nebula_scheduler"
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Scheduler.DefaultPriority == 0 {
		c.Scheduler.DefaultPriority = 50
	}
	if c.Scheduler.ClaimLookahead == 0 {
		c.Scheduler.ClaimLookahead = 10
	}
	if c.Scheduler.WaitWindow == 0 {
		c.Scheduler.WaitWindow = 50
	}
	if c.Vram.LockTTLMinutes == 0 {
		c.Vram.LockTTLMinutes = 30
	}
	if c.Vram.CleanupCron == "" {
		c.Vram.CleanupCron = "*/5 * * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if len(c.Nodes) == 0 {
		errs = append(errs, "at least one node is required")
	}
	seen := make(map[string]bool)
	for i, n := range c.Nodes {
		if n.ID == "" {
			errs = append(errs, fmt.Sprintf("nodes[%d].id is required", i))
			continue
		}
		if seen[n.ID] {
			errs = append(errs, fmt.Sprintf("nodes[%d].id %q is duplicated", i, n.ID))
		}
		seen[n.ID] = true
	}
	if c.Scheduler.ClaimLookahead < 0 {
		errs = append(errs, "scheduler.claim_lookahead must not be negative")
	}
	if c.Vram.LockTTLMinutes < 0 {
		errs = append(errs, "vram.lock_ttl_minutes must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// NodeEnabled reports whether a node config row is enabled, defaulting to true.
func (n NodeConfig) NodeEnabled() bool {
	return n.Enabled == nil || *n.Enabled
}
