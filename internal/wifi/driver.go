// Package wifi manages station-mode connectivity with retry backoff and
// access-point fallback. The state machine is driven entirely by Update()
// polling a Driver; nothing blocks.
package wifi

import "net"

// LinkStatus is the underlying radio link state as reported by a Driver.
type LinkStatus int

const (
	// LinkIdle means no connection attempt is active.
	LinkIdle LinkStatus = iota
	// LinkConnecting means an attempt is in progress.
	LinkConnecting
	// LinkUp means the station link is established.
	LinkUp
	// LinkFailed means the last attempt failed explicitly (bad credentials,
	// SSID not found).
	LinkFailed
)

// APConfig describes the fallback access point.
type APConfig struct {
	SSID     string
	Password string // empty = open network
	IP       net.IP
	Gateway  net.IP
	Subnet   net.IPMask
}

// Driver abstracts the platform WiFi stack. Implementations must be
// non-blocking: Connect starts an attempt and returns; progress is
// observed through Status.
type Driver interface {
	// Status reports the current link state.
	Status() LinkStatus

	// Connect begins a station-mode association attempt.
	Connect(ssid, password string) error

	// Disconnect aborts any station attempt or association. It must not
	// tear down a running access point.
	Disconnect()

	// StartAccessPoint brings up the fallback AP. A station reconnect may
	// still be attempted while the AP is running.
	StartAccessPoint(cfg APConfig) error

	// StopAccessPoint tears the AP down.
	StopAccessPoint() error

	// HardwareAddr returns the adapter MAC, used to derive the AP SSID.
	HardwareAddr() net.HardwareAddr
}

// FakeDriver is a scripted Driver for tests.
type FakeDriver struct {
	// LinkStatus is returned by Status; tests mutate it to script the radio.
	LinkStatus LinkStatus

	// MAC is returned by HardwareAddr.
	MAC net.HardwareAddr

	// ConnectErr, if set, is returned by Connect.
	ConnectErr error

	// APErr, if set, is returned by StartAccessPoint.
	APErr error

	ConnectCalls    []string // SSIDs passed to Connect
	DisconnectCalls int
	APActive        bool
	LastAPConfig    APConfig
}

// NewFakeDriver creates a fake with a fixed test MAC.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		MAC: net.HardwareAddr{0xde, 0xad, 0xbe, 0xef, 0x12, 0x34},
	}
}

// Status reports the scripted link state.
func (f *FakeDriver) Status() LinkStatus {
	return f.LinkStatus
}

// Connect records the attempt and moves the scripted link to connecting.
func (f *FakeDriver) Connect(ssid, password string) error {
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.ConnectCalls = append(f.ConnectCalls, ssid)
	f.LinkStatus = LinkConnecting
	return nil
}

// Disconnect records the call and idles the scripted link.
func (f *FakeDriver) Disconnect() {
	f.DisconnectCalls++
	if f.LinkStatus != LinkUp {
		f.LinkStatus = LinkIdle
	}
}

// StartAccessPoint records the AP configuration.
func (f *FakeDriver) StartAccessPoint(cfg APConfig) error {
	if f.APErr != nil {
		return f.APErr
	}
	f.APActive = true
	f.LastAPConfig = cfg
	return nil
}

// StopAccessPoint clears the AP flag.
func (f *FakeDriver) StopAccessPoint() error {
	f.APActive = false
	return nil
}

// HardwareAddr returns the scripted MAC.
func (f *FakeDriver) HardwareAddr() net.HardwareAddr {
	return f.MAC
}
