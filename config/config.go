// Package config loads the bot configuration from a YAML file with
// environment-variable overrides. Per-module configuration is kept as raw
// YAML and decoded by each module itself.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	defaultPrefix   = "!"
	defaultThrottle = 1000 // milliseconds
	defaultDBPath   = "./roombot.db"
)

type Config struct {
	Username string   `yaml:"username" env:"ROOMBOT_USERNAME"`
	Secret   string   `yaml:"secret" env:"ROOMBOT_SECRET"`
	Server   string   `yaml:"server" env:"ROOMBOT_SERVER"`
	Rooms    []string `yaml:"rooms" env:"ROOMBOT_ROOMS"`
	Master   string   `yaml:"master" env:"ROOMBOT_MASTER"`
	Prefix   string   `yaml:"prefix" env:"ROOMBOT_PREFIX"`

	ThrottleMS int    `yaml:"throttle_ms" env:"ROOMBOT_THROTTLE_MS"`
	DBPath     string `yaml:"db_path" env:"ROOMBOT_DB_PATH"`

	Modules map[string]yaml.Node `yaml:"modules"`
}

// Load reads the config file at path, applies env overrides and defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	if c.ThrottleMS <= 0 {
		c.ThrottleMS = defaultThrottle
	}
	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}
}

func (c *Config) validate() error {
	if c.Username == "" {
		return fmt.Errorf("config: username is required")
	}
	if c.Server == "" {
		return fmt.Errorf("config: server is required")
	}
	return nil
}

// Throttle returns the minimum interval between outbound sends.
func (c *Config) Throttle() time.Duration {
	return time.Duration(c.ThrottleMS) * time.Millisecond
}

// SetRoom replaces the configured room list with a single room. Used by the
// -r/--room CLI override.
func (c *Config) SetRoom(room string) {
	c.Rooms = []string{room}
}

// Module returns the raw config slice for a module, case-insensitively.
// Nil if the module has no configuration.
func (c *Config) Module(name string) *yaml.Node {
	for key := range c.Modules {
		if strings.EqualFold(key, name) {
			node := c.Modules[key]
			return &node
		}
	}
	return nil
}
