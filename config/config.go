// Package config loads the agent's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DeviceConfig holds transport selection and probing settings.
type DeviceConfig struct {
	DefaultTransport string `yaml:"default_transport"` // usb | ble | mock
	ScanTimeoutMS    int    `yaml:"scan_timeout_ms"`   // per-variant probe bound
	EnableMock       bool   `yaml:"enable_mock"`       // prefer the mock transport on startup
}

// ServerConfig holds the presentation bridge settings.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	APISecret string `yaml:"api_secret"`
}

// LibraryConfig holds signal library settings.
type LibraryConfig struct {
	SignalRoot string `yaml:"signal_root"`
}

// Config is the top-level application configuration. Consumed read-only at
// startup.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Server  ServerConfig  `yaml:"server"`
	Library LibraryConfig `yaml:"library"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	signalRoot := "signals"
	if home, err := os.UserHomeDir(); err == nil {
		signalRoot = filepath.Join(home, ".hydra", "signals")
	}
	return &Config{
		Device: DeviceConfig{
			DefaultTransport: "usb",
			ScanTimeoutMS:    2000,
		},
		Server: ServerConfig{
			Port: 18080,
		},
		Library: LibraryConfig{
			SignalRoot: signalRoot,
		},
	}
}

// ScanTimeout returns the per-variant probe bound as a duration.
func (c *Config) ScanTimeout() time.Duration {
	if c.Device.ScanTimeoutMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Device.ScanTimeoutMS) * time.Millisecond
}

// Load reads and parses the file at path, applying defaults for fields it
// does not set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Defaults when
// it does not. Parse failures in an existing file are still errors.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Defaults(), nil
	}
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Defaults(), nil
		}
		return nil, err
	}
	return cfg, nil
}
