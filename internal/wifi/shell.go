package wifi

import (
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"

	"avbridge/internal/clock"

	"go.uber.org/zap"
)

// statusPollInterval bounds how often the link state is queried from
// nmcli; between polls the cached state is served.
const statusPollInterval = time.Second

// apConnectionName is the NetworkManager connection profile used for the
// fallback hotspot, so it can be torn down by name.
const apConnectionName = "avbridge-ap"

// commandRunner executes a command and returns its combined output.
// Injected in tests.
type commandRunner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// ShellDriver drives the host WiFi stack through nmcli. Connect runs in a
// goroutine because nmcli blocks until association settles; everything
// else is quick enough to run inline.
type ShellDriver struct {
	iface  string
	mac    net.HardwareAddr
	clk    clock.Clock
	logger *zap.Logger
	run    commandRunner

	mu         sync.Mutex
	status     LinkStatus
	connecting bool
	apUp       bool
	lastPoll   time.Time
}

// NewShellDriver creates a driver for the named interface. The interface
// must exist so the AP SSID can be derived from its MAC.
func NewShellDriver(iface string, clk clock.Clock, logger *zap.Logger) (*ShellDriver, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("wifi interface %q: %w", iface, err)
	}
	return &ShellDriver{
		iface:  iface,
		mac:    ifi.HardwareAddr,
		clk:    clk,
		logger: logger.Named("nmcli"),
		run:    execRunner,
	}, nil
}

// Status serves the cached link state, refreshing from nmcli at most once
// per statusPollInterval. While a connect attempt is in flight the
// goroutine owns the state.
func (d *ShellDriver) Status() LinkStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connecting {
		return LinkConnecting
	}
	if d.clk.Since(d.lastPoll) < statusPollInterval {
		return d.status
	}
	d.lastPoll = d.clk.Now()

	out, err := d.run("nmcli", "-g", "GENERAL.STATE", "device", "show", d.iface)
	if err != nil {
		d.logger.Debug("Status query failed", zap.Error(err))
		return d.status
	}
	// Device state 100 is "connected"; anything lower is not associated.
	if strings.HasPrefix(strings.TrimSpace(string(out)), "100") {
		d.status = LinkUp
	} else if d.status == LinkUp {
		d.status = LinkIdle
	}
	return d.status
}

// Connect starts an association attempt in the background.
func (d *ShellDriver) Connect(ssid, password string) error {
	d.mu.Lock()
	if d.connecting {
		d.mu.Unlock()
		return nil
	}
	d.connecting = true
	d.status = LinkConnecting
	d.mu.Unlock()

	args := []string{"device", "wifi", "connect", ssid, "ifname", d.iface}
	if password != "" {
		args = append(args, "password", password)
	}

	go func() {
		out, err := d.run("nmcli", args...)

		d.mu.Lock()
		defer d.mu.Unlock()
		d.connecting = false
		d.lastPoll = d.clk.Now()
		if err != nil {
			d.logger.Warn("nmcli connect failed",
				zap.String("ssid", ssid),
				zap.String("output", strings.TrimSpace(string(out))),
				zap.Error(err))
			d.status = LinkFailed
			return
		}
		d.status = LinkUp
	}()
	return nil
}

// Disconnect drops the station association. When the hotspot is up on the
// same interface it is left alone; nmcli cannot split the two.
func (d *ShellDriver) Disconnect() {
	d.mu.Lock()
	apUp := d.apUp
	d.mu.Unlock()
	if apUp {
		d.logger.Debug("Hotspot active - skipping device disconnect")
		return
	}

	if out, err := d.run("nmcli", "device", "disconnect", d.iface); err != nil {
		d.logger.Debug("nmcli disconnect failed",
			zap.String("output", strings.TrimSpace(string(out))),
			zap.Error(err))
	}
	d.mu.Lock()
	d.status = LinkIdle
	d.mu.Unlock()
}

// StartAccessPoint brings up the hotspot profile.
func (d *ShellDriver) StartAccessPoint(cfg APConfig) error {
	args := []string{"device", "wifi", "hotspot",
		"ifname", d.iface,
		"con-name", apConnectionName,
		"ssid", cfg.SSID}
	if cfg.Password != "" {
		args = append(args, "password", cfg.Password)
	}

	out, err := d.run("nmcli", args...)
	if err != nil {
		return fmt.Errorf("nmcli hotspot: %s: %w", strings.TrimSpace(string(out)), err)
	}

	d.mu.Lock()
	d.apUp = true
	d.status = LinkIdle
	d.mu.Unlock()
	return nil
}

// StopAccessPoint tears the hotspot profile down.
func (d *ShellDriver) StopAccessPoint() error {
	out, err := d.run("nmcli", "connection", "down", apConnectionName)
	if err != nil {
		return fmt.Errorf("nmcli connection down: %s: %w", strings.TrimSpace(string(out)), err)
	}
	d.mu.Lock()
	d.apUp = false
	d.mu.Unlock()
	return nil
}

// HardwareAddr returns the interface MAC.
func (d *ShellDriver) HardwareAddr() net.HardwareAddr {
	return d.mac
}
