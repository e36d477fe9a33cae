package wifi

import (
	"fmt"
	"net"
	"time"

	"avbridge/internal/clock"

	"go.uber.org/zap"
)

// State is the connectivity state machine state.
type State string

const (
	// StateDisconnected is the idle state; connection only resumes via an
	// explicit Connect call.
	StateDisconnected State = "DISCONNECTED"
	// StateConnecting means a station attempt is in progress.
	StateConnecting State = "CONNECTING"
	// StateConnected means the station link is established.
	StateConnected State = "CONNECTED"
	// StateFailed means the last attempt failed; retries run from here.
	StateFailed State = "FAILED"
	// StateAPActive means the fallback access point is hosting.
	StateAPActive State = "AP_ACTIVE"
)

const (
	connectTimeout = 15 * time.Second

	// maxRetries counts retries after the initial attempt; exceeding it
	// falls back to AP mode instead of retrying further.
	maxRetries     = 2
	baseRetryDelay = 5 * time.Second

	// disconnectTolerance is how long a disconnection must persist before
	// it is honored, so transient radio drops don't flap the state.
	disconnectTolerance = 3 * time.Second

	apReconnectInterval = 60 * time.Second
	apReconnectTimeout  = 15 * time.Second

	apSSIDPrefix = "AVBridge"
)

// StateChangeCallback receives every state transition.
type StateChangeCallback func(State)

// Manager is the station-connect/retry/AP-fallback state machine. It has
// no coupling to AV control; it only supplies connectivity.
type Manager struct {
	drv    Driver
	clk    clock.Clock
	logger *zap.Logger

	state    State
	ssid     string
	password string

	connectStart time.Time

	retryCount int
	retryDelay time.Duration
	lastRetry  time.Time

	// disconnectAt is when a disconnection was first observed while
	// connected; zero while the link is healthy.
	disconnectAt time.Time

	apReconnecting bool
	lastAPAttempt  time.Time
	apAttemptStart time.Time

	apConfig APConfig
	callback StateChangeCallback
}

// NewManager creates a manager in the DISCONNECTED state. The AP SSID is
// derived from the adapter MAC so every device hosts a distinct network.
func NewManager(drv Driver, clk clock.Clock, logger *zap.Logger) *Manager {
	m := &Manager{
		drv:    drv,
		clk:    clk,
		logger: logger.Named("wifi"),
		state:  StateDisconnected,
	}
	m.apConfig = generateAPConfig(drv.HardwareAddr())
	m.logger.Debug("AP SSID reserved", zap.String("ssid", m.apConfig.SSID))
	return m
}

// generateAPConfig derives the fallback AP settings: SSID from the last
// three MAC bytes, open security, fixed private subnet.
func generateAPConfig(mac net.HardwareAddr) APConfig {
	suffix := "000000"
	if len(mac) >= 6 {
		suffix = fmt.Sprintf("%02X%02X%02X", mac[3], mac[4], mac[5])
	}
	return APConfig{
		SSID:    fmt.Sprintf("%s-%s", apSSIDPrefix, suffix),
		IP:      net.IPv4(192, 168, 1, 1),
		Gateway: net.IPv4(192, 168, 1, 1),
		Subnet:  net.IPv4Mask(255, 255, 255, 0),
	}
}

// Connect begins a station-mode attempt with the given credentials.
func (m *Manager) Connect(ssid, password string) error {
	if ssid == "" {
		m.logger.Warn("Cannot connect - no SSID provided")
		return fmt.Errorf("no SSID provided")
	}

	if m.state == StateAPActive {
		m.StopAccessPoint()
	}

	m.ssid = ssid
	m.password = password

	m.logger.Info("Connecting", zap.String("ssid", ssid))
	if err := m.drv.Connect(ssid, password); err != nil {
		m.logger.Warn("Connect attempt failed to start", zap.Error(err))
		m.setState(StateFailed)
		return err
	}

	m.connectStart = m.clk.Now()
	m.setState(StateConnecting)
	return nil
}

// Disconnect drops the station link and idles the state machine.
func (m *Manager) Disconnect() {
	if m.state == StateAPActive {
		m.logger.Warn("Cannot disconnect in AP mode - use StopAccessPoint")
		return
	}
	m.drv.Disconnect()
	m.setState(StateDisconnected)
	m.logger.Info("Disconnected")
}

// Update advances the state machine. Must be called once per loop tick.
func (m *Manager) Update() {
	status := m.drv.Status()

	switch m.state {
	case StateConnecting:
		if status == LinkUp {
			m.confirmConnected("Connected")
		} else if status == LinkFailed || m.clk.Since(m.connectStart) >= connectTimeout {
			m.setState(StateFailed)
			m.logger.Warn("Connection failed", zap.String("ssid", m.ssid))
		}

	case StateConnected:
		if status != LinkUp {
			if m.disconnectAt.IsZero() {
				m.disconnectAt = m.clk.Now()
				m.logger.Debug("Disconnect detected - waiting to confirm",
					zap.Duration("tolerance", disconnectTolerance))
			} else if m.clk.Since(m.disconnectAt) >= disconnectTolerance {
				// FAILED rather than DISCONNECTED so retry logic engages
				m.disconnectAt = time.Time{}
				m.setState(StateFailed)
				m.logger.Warn("Connection lost (confirmed)")
			}
		} else {
			m.disconnectAt = time.Time{}
		}

	case StateDisconnected:
		if status == LinkUp {
			// Link came up outside our control; track it
			m.confirmConnected("Reconnected")
		}

	case StateFailed:
		if status == LinkUp {
			m.confirmConnected("Connection recovered")
		} else {
			m.handleRetryLogic()
		}

	case StateAPActive:
		m.handleAPReconnect()
	}
}

// handleRetryLogic runs exponential backoff in FAILED; the cap is checked
// when arming the next retry, so every scheduled retry fires before the
// access point takes over.
func (m *Manager) handleRetryLogic() {
	if m.retryDelay == 0 {
		if m.retryCount >= maxRetries {
			m.logger.Warn("Max retries exceeded - falling back to AP mode")
			m.retryCount = 0
			if err := m.StartAccessPoint(); err != nil {
				m.logger.Error("AP fallback failed", zap.Error(err))
			}
			return
		}
		m.retryDelay = baseRetryDelay << m.retryCount
		m.lastRetry = m.clk.Now()
		m.retryCount++
		m.logger.Info("Will retry",
			zap.Duration("delay", m.retryDelay),
			zap.Int("attempt", m.retryCount),
			zap.Int("max", maxRetries))
	} else if m.clk.Since(m.lastRetry) >= m.retryDelay {
		m.logger.Info("Retrying connection",
			zap.Int("attempt", m.retryCount),
			zap.Int("max", maxRetries))
		m.retryDelay = 0
		m.Connect(m.ssid, m.password)
	}
}

// StartAccessPoint brings up the fallback AP. If credentials are known, a
// background station reconnect is attempted periodically while the AP
// stays reachable.
func (m *Manager) StartAccessPoint() error {
	m.logger.Info("Starting access point", zap.String("ssid", m.apConfig.SSID))

	m.drv.Disconnect()
	if err := m.drv.StartAccessPoint(m.apConfig); err != nil {
		return fmt.Errorf("start access point: %w", err)
	}

	m.apReconnecting = false
	m.lastAPAttempt = m.clk.Now() // wait one full interval before first attempt
	m.setState(StateAPActive)
	return nil
}

// StopAccessPoint tears the AP down and returns to the idle state.
func (m *Manager) StopAccessPoint() {
	if m.state != StateAPActive {
		return
	}
	m.logger.Info("Stopping access point")
	if err := m.drv.StopAccessPoint(); err != nil {
		m.logger.Warn("Stop access point failed", zap.Error(err))
	}
	m.retryCount = 0
	m.retryDelay = 0
	m.apReconnecting = false
	m.setState(StateDisconnected)
}

// handleAPReconnect periodically retries the saved network in the
// background without tearing the AP down; success promotes to
// station-only CONNECTED.
func (m *Manager) handleAPReconnect() {
	if m.ssid == "" {
		return
	}

	if m.apReconnecting {
		status := m.drv.Status()

		if status == LinkUp {
			m.logger.Info("Reconnected from AP mode", zap.String("ssid", m.ssid))
			if err := m.drv.StopAccessPoint(); err != nil {
				m.logger.Warn("Stop access point failed", zap.Error(err))
			}
			m.apReconnecting = false
			m.confirmConnected("Reconnected from AP mode")
			return
		}

		if status == LinkFailed || m.clk.Since(m.apAttemptStart) >= apReconnectTimeout {
			m.logger.Debug("AP reconnect attempt failed")
			m.drv.Disconnect() // stop the station attempt, keep the AP running
			m.apReconnecting = false
			m.lastAPAttempt = m.clk.Now()
		}
		return
	}

	if m.clk.Since(m.lastAPAttempt) >= apReconnectInterval {
		m.logger.Info("Attempting background reconnect", zap.String("ssid", m.ssid))
		if err := m.drv.Connect(m.ssid, m.password); err != nil {
			m.logger.Debug("Background reconnect failed to start", zap.Error(err))
			m.lastAPAttempt = m.clk.Now()
			return
		}
		m.apReconnecting = true
		m.apAttemptStart = m.clk.Now()
	}
}

func (m *Manager) confirmConnected(msg string) {
	m.retryCount = 0
	m.retryDelay = 0
	m.disconnectAt = time.Time{}
	m.setState(StateConnected)
	m.logger.Info(msg, zap.String("ssid", m.ssid))
}

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("State transition",
		zap.String("from", string(m.state)),
		zap.String("to", string(s)))
	m.state = s
	if m.callback != nil {
		m.callback(s)
	}
}

// OnStateChange registers the single state-change consumer.
func (m *Manager) OnStateChange(cb StateChangeCallback) {
	m.callback = cb
}

// State returns the current connectivity state.
func (m *Manager) State() State {
	return m.state
}

// IsConnected reports whether the station link is confirmed up.
func (m *Manager) IsConnected() bool {
	return m.state == StateConnected
}

// IsAPActive reports whether the fallback AP is hosting.
func (m *Manager) IsAPActive() bool {
	return m.state == StateAPActive
}

// IsReconnecting reports whether a background station attempt is running
// while the AP is active.
func (m *Manager) IsReconnecting() bool {
	return m.state == StateAPActive && m.apReconnecting
}

// APSSID returns the derived fallback AP network name.
func (m *Manager) APSSID() string {
	return m.apConfig.SSID
}
