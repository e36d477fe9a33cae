package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"avbridge/internal/processor"
	"avbridge/internal/trigger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "avbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
wifi:
  ssid: home
  password: secret
  hostname: living-room
switcher:
  device: /dev/ttyS0
  baud: 19200
  auto_switch: false
processor:
  device: 192.168.1.40:23
  power_mode: simple
  boot_timeout: 20s
receiver:
  enabled: true
  address: 192.168.1.50:23
  input: SAT/CBL
triggers:
  - input: 1
    mode: SVS
    profile: 3
    name: Chromecast
  - input: 2
    mode: REMOTE
    profile: 5
telemetry:
  broker: tcp://broker.local:1883
  topic: avbridge/status
http:
  listen: :9090
`)

	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "home", cfg.Wifi.SSID)
	assert.Equal(t, "living-room", cfg.Wifi.Hostname)
	assert.Equal(t, "/dev/ttyS0", cfg.Switcher.Device)
	assert.Equal(t, 19200, cfg.Switcher.Baud)
	assert.False(t, cfg.Switcher.AutoSwitch)
	assert.Equal(t, "simple", cfg.Processor.PowerMode)
	assert.Equal(t, 20*time.Second, time.Duration(cfg.Processor.BootTimeout))
	assert.True(t, cfg.Receiver.Enabled)
	assert.Equal(t, "SAT/CBL", cfg.Receiver.Input)
	assert.Len(t, cfg.Triggers, 2)
	assert.Equal(t, "tcp://broker.local:1883", cfg.Telemetry.Broker)
	assert.Equal(t, ":9090", cfg.HTTP.Listen)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
wifi:
  ssid: home
`)

	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "home", cfg.Wifi.SSID)
	assert.Equal(t, "avbridge", cfg.Wifi.Hostname)
	assert.True(t, cfg.Switcher.AutoSwitch)
	assert.Equal(t, 9600, cfg.Switcher.Baud)
	assert.Equal(t, string(processor.PowerModeFull), cfg.Processor.PowerMode)
	assert.Equal(t, processor.DefaultBootTimeout, time.Duration(cfg.Processor.BootTimeout))
	assert.Equal(t, "DVD", cfg.Receiver.Input)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "switcher: [not a map")
	_, err := Load(path, zap.NewNop())
	assert.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
processor:
  boot_timeout: soon
`)
	_, err := Load(path, zap.NewNop())
	assert.Error(t, err)
}

func TestNormalizeCorrectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
switcher:
  kind: Mystery Box
  baud: -1
processor:
  power_mode: turbo
  boot_timeout: 0s
`)

	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, Default().Switcher.Kind, cfg.Switcher.Kind)
	assert.Equal(t, 9600, cfg.Switcher.Baud)
	assert.Equal(t, string(processor.PowerModeFull), cfg.Processor.PowerMode)
	assert.Equal(t, processor.DefaultBootTimeout, time.Duration(cfg.Processor.BootTimeout))
}

func TestSaveRoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Wifi.SSID = "home"
	cfg.Triggers = []TriggerConfig{{Input: 1, Mode: "SVS", Profile: 4, Name: "HDMI"}}

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestToMappings(t *testing.T) {
	cfg := Default()
	cfg.Triggers = []TriggerConfig{
		{Input: 1, Mode: "SVS", Profile: 3, Name: "Chromecast"},
		{Input: 2, Mode: "REMOTE", Profile: 5},
	}

	mappings := cfg.ToMappings()
	require.Len(t, mappings, 2)
	assert.Equal(t, trigger.Mapping{Input: 1, Mode: trigger.ModeSVS, Profile: 3, Name: "Chromecast"}, mappings[0])
	assert.Equal(t, trigger.ModeRemote, mappings[1].Mode)
}
