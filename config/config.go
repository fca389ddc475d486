package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Listen describes one listening endpoint. Path selects a Unix-domain
// socket and takes precedence over host/port.
type Listen struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Path        string `yaml:"path"`
	NonBlocking bool   `yaml:"non_blocking"`
}

type Config struct {
	Listen   Listen `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the settings used when no config file is given.
func Default() *Config {
	return &Config{
		Listen:   Listen{Host: "", Port: 4242},
		LogLevel: "info",
	}
}

// Load reads a yaml config file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
