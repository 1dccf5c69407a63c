// Package config loads and validates the gateway's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all gateway configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Adapter  string         `yaml:"adapter"` // HCI device, e.g. "hci0"
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Devices  []DeviceConfig `yaml:"devices"`
}

// MQTTConfig holds broker connection and topic settings.
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	Port            int    `yaml:"port"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"` // Home Assistant discovery, empty disables
}

// DeviceConfig describes one monitored device.
type DeviceConfig struct {
	Name    string `yaml:"name"`
	Family  string `yaml:"family"` // "tirelinc" or "medisanabp"
	Address string `yaml:"address"`

	// Sensors maps tire positions ("tire_1".."tire_N") to 4-byte sensor ids
	// in hyphenated hex ("0E-B3-0B-02"). Populated from a learning run.
	Sensors map[string]string `yaml:"sensors"`

	// IntervalSeconds is the poll period while parked; IntervalMovingSeconds
	// applies when the rig is flagged as moving.
	IntervalSeconds       int  `yaml:"interval_seconds"`
	IntervalMovingSeconds int  `yaml:"interval_moving_seconds"`
	Moving                bool `yaml:"moving"`

	// ExpectedDataPackets overrides the family default when > 0.
	ExpectedDataPackets int `yaml:"expected_data_packets"`
	// DiscoveryCap bounds learning-mode discovery, 0 for the default.
	DiscoveryCap int `yaml:"discovery_cap"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tpms-gateway")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Adapter:  "hci0",
		MQTT: MQTTConfig{
			Broker:          "localhost",
			Port:            1883,
			ClientID:        "tpms-gateway",
			TopicPrefix:     "tpms",
			DiscoveryPrefix: "homeassistant",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	for i := range cfg.Devices {
		cfg.Devices[i].applyDefaults()
	}

	return cfg, nil
}

// Poll intervals from the vendor app: 15 minutes parked, 15 seconds rolling.
const (
	defaultIntervalSeconds       = 900
	defaultIntervalMovingSeconds = 15
)

func (d *DeviceConfig) applyDefaults() {
	if d.IntervalSeconds <= 0 {
		d.IntervalSeconds = defaultIntervalSeconds
	}
	if d.IntervalMovingSeconds <= 0 {
		d.IntervalMovingSeconds = defaultIntervalMovingSeconds
	}
}

// PollInterval returns the active poll period for the device.
func (d *DeviceConfig) PollInterval() time.Duration {
	if d.Moving {
		return time.Duration(d.IntervalMovingSeconds) * time.Second
	}
	return time.Duration(d.IntervalSeconds) * time.Second
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker must not be empty")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port must be 1-65535, got %d", c.MQTT.Port)
	}
	if c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt.client_id must not be empty")
	}

	if len(c.Devices) == 0 {
		return fmt.Errorf("at least one device must be configured")
	}

	seen := make(map[string]bool)
	for i := range c.Devices {
		if err := c.Devices[i].validate(); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		if seen[c.Devices[i].Name] {
			return fmt.Errorf("devices[%d]: duplicate name %q", i, c.Devices[i].Name)
		}
		seen[c.Devices[i].Name] = true
	}

	return nil
}

func (d *DeviceConfig) validate() error {
	if d.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	switch d.Family {
	case "tirelinc", "medisanabp":
	default:
		return fmt.Errorf("family must be \"tirelinc\" or \"medisanabp\", got %q", d.Family)
	}
	if d.Address == "" {
		return fmt.Errorf("address must not be empty")
	}
	if d.ExpectedDataPackets < 0 {
		return fmt.Errorf("expected_data_packets must be >= 0")
	}
	return nil
}

// Save writes the config back to disk, used after applying a rotation
// pattern to the sensor table.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
