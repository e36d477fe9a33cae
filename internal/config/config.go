// Package config loads and persists the bridge configuration from a YAML
// file. Defaults apply for any key the file omits, so a partial file is
// always usable.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"avbridge/internal/processor"
	"avbridge/internal/switcher"
	"avbridge/internal/trigger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so values like "15s" round-trip through YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON parses a duration string, for the web API.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON renders the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// WifiConfig holds station credentials and the advertised hostname.
// Interface names the wireless adapter the daemon should manage; when
// empty, connectivity is left to the host.
type WifiConfig struct {
	SSID      string `yaml:"ssid" json:"ssid"`
	Password  string `yaml:"password" json:"password"`
	Hostname  string `yaml:"hostname" json:"hostname"`
	Interface string `yaml:"interface" json:"interface"`
}

// SwitcherConfig selects the switcher model and its serial link.
type SwitcherConfig struct {
	Kind       string `yaml:"kind" json:"kind"`
	Device     string `yaml:"device" json:"device"`
	Baud       int    `yaml:"baud" json:"baud"`
	AutoSwitch bool   `yaml:"auto_switch" json:"auto_switch"`
}

// ProcessorConfig selects the video processor link and power handling.
type ProcessorConfig struct {
	Device      string   `yaml:"device" json:"device"`
	Baud        int      `yaml:"baud" json:"baud"`
	PowerMode   string   `yaml:"power_mode" json:"power_mode"`
	BootTimeout Duration `yaml:"boot_timeout" json:"boot_timeout"`
}

// ReceiverConfig selects the AV receiver network endpoint.
type ReceiverConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Input   string `yaml:"input" json:"input"`
}

// TriggerConfig is one input-to-command mapping row.
type TriggerConfig struct {
	Input   int    `yaml:"input" json:"input"`
	Mode    string `yaml:"mode" json:"mode"`
	Profile int    `yaml:"profile" json:"profile"`
	Name    string `yaml:"name" json:"name"`
}

// TelemetryConfig selects the MQTT status feed.
type TelemetryConfig struct {
	Broker string `yaml:"broker" json:"broker"`
	Topic  string `yaml:"topic" json:"topic"`
}

// HTTPConfig selects the web API listener.
type HTTPConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// Config is the full bridge configuration.
type Config struct {
	Wifi      WifiConfig      `yaml:"wifi" json:"wifi"`
	Switcher  SwitcherConfig  `yaml:"switcher" json:"switcher"`
	Processor ProcessorConfig `yaml:"processor" json:"processor"`
	Receiver  ReceiverConfig  `yaml:"receiver" json:"receiver"`
	Triggers  []TriggerConfig `yaml:"triggers" json:"triggers"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
}

// Default returns the configuration used when the file is missing or
// partial.
func Default() *Config {
	return &Config{
		Wifi: WifiConfig{
			Hostname: "avbridge",
		},
		Switcher: SwitcherConfig{
			Kind:       string(switcher.KindExtronSwVga),
			Device:     "/dev/ttyUSB0",
			Baud:       9600,
			AutoSwitch: true,
		},
		Processor: ProcessorConfig{
			Device:      "/dev/ttyUSB1",
			Baud:        9600,
			PowerMode:   string(processor.PowerModeFull),
			BootTimeout: Duration(processor.DefaultBootTimeout),
		},
		Receiver: ReceiverConfig{
			Input: "DVD",
		},
		HTTP: HTTPConfig{
			Listen: ":8080",
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is
// not an error; the defaults are returned with a warning. Out-of-range
// values are corrected back to their defaults.
func Load(path string, logger *zap.Logger) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("Config file not found - using defaults", zap.String("path", path))
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.normalize(logger)
	return cfg, nil
}

// normalize corrects invalid values back to defaults with a warning rather
// than failing the whole load.
func (c *Config) normalize(logger *zap.Logger) {
	if c.Switcher.Kind != string(switcher.KindExtronSwVga) {
		logger.Warn("Unknown switcher kind - using default",
			zap.String("kind", c.Switcher.Kind))
		c.Switcher.Kind = string(switcher.KindExtronSwVga)
	}
	if c.Switcher.Baud <= 0 {
		c.Switcher.Baud = 9600
	}

	switch processor.PowerMode(c.Processor.PowerMode) {
	case processor.PowerModeOff, processor.PowerModeSimple, processor.PowerModeFull:
	default:
		logger.Warn("Unknown power mode - using full",
			zap.String("mode", c.Processor.PowerMode))
		c.Processor.PowerMode = string(processor.PowerModeFull)
	}
	if c.Processor.Baud <= 0 {
		c.Processor.Baud = 9600
	}
	if c.Processor.BootTimeout <= 0 {
		logger.Warn("Invalid boot timeout - using default",
			zap.Duration("default", processor.DefaultBootTimeout))
		c.Processor.BootTimeout = Duration(processor.DefaultBootTimeout)
	}

	if c.Receiver.Input == "" {
		c.Receiver.Input = "DVD"
	}
}

// Save writes the configuration back to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ToMappings converts the trigger rows into the dispatch table's form.
// Validation of ranges and duplicates happens in trigger.NewTable.
func (c *Config) ToMappings() []trigger.Mapping {
	mappings := make([]trigger.Mapping, 0, len(c.Triggers))
	for _, t := range c.Triggers {
		mappings = append(mappings, trigger.Mapping{
			Input:   t.Input,
			Mode:    trigger.Mode(t.Mode),
			Profile: t.Profile,
			Name:    t.Name,
		})
	}
	return mappings
}
