package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Monitor MonitorConfig `yaml:"monitor"`
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type MonitorConfig struct {
	// Printers is the fixed number of printer slots.
	Printers int `yaml:"printers"`
	// RefreshInterval is how often a printing printer is polled, in seconds.
	RefreshInterval int `yaml:"refresh_interval"`
	// TickInterval is how often the poller checks for due printers, in seconds.
	TickInterval int  `yaml:"tick_interval"`
	Use24Hour    bool `yaml:"use_24_hour"`
	// SettingsFile holds the per-printer settings as JSON.
	SettingsFile string `yaml:"settings_file"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Monitor: MonitorConfig{
			Printers:        4,
			RefreshInterval: 30,
			TickInterval:    5,
			SettingsFile:    "printers.json",
		},
		LogLevel: "info",
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Resolve relative settings file to absolute path.
	if !filepath.IsAbs(cfg.Monitor.SettingsFile) {
		dir, _ := os.Getwd()
		cfg.Monitor.SettingsFile = filepath.Join(dir, cfg.Monitor.SettingsFile)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	m := c.Monitor
	switch {
	case m.Printers < 1:
		return fmt.Errorf("monitor.printers must be at least 1, got %d", m.Printers)
	case m.RefreshInterval < 1:
		return fmt.Errorf("monitor.refresh_interval must be positive, got %d", m.RefreshInterval)
	case m.TickInterval < 1:
		return fmt.Errorf("monitor.tick_interval must be positive, got %d", m.TickInterval)
	case m.SettingsFile == "":
		return fmt.Errorf("monitor.settings_file must be set")
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Monitor.RefreshInterval) * time.Second
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Monitor.TickInterval) * time.Second
}
