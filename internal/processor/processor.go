// Package processor controls the video processor: it turns trigger mappings
// into protocol commands and sequences them through a power state machine,
// because the device silently discards commands received while it is waking
// or booting.
package processor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"avbridge/internal/clock"
	"avbridge/internal/transport"
	"avbridge/internal/trigger"

	"go.uber.org/zap"
)

// PowerMode selects how much power sequencing the controller performs.
type PowerMode string

const (
	// PowerModeOff disables power sequencing; commands are sent immediately.
	PowerModeOff PowerMode = "off"
	// PowerModeSimple wakes the device on the first trigger and assumes it
	// stays on afterwards. No status-line tracking.
	PowerModeSimple PowerMode = "simple"
	// PowerModeFull tracks the device's power state continuously from
	// parsed status lines.
	PowerModeFull PowerMode = "full"
)

// PowerState is the inferred device power state.
type PowerState string

const (
	StateUnknown  PowerState = "UNKNOWN"
	StateWaking   PowerState = "WAKING"
	StateBooting  PowerState = "BOOTING"
	StateOn       PowerState = "ON"
	StateSleeping PowerState = "SLEEPING"
)

const (
	// wakeResponseTimeout is how long to wait for a "Powering Up" status
	// line after sending "pwr on" from UNKNOWN. Expiry means the device
	// was most likely already awake. An unresponsive device looks the
	// same; both are treated as on.
	wakeResponseTimeout = 3 * time.Second

	// DefaultBootTimeout is the fallback wait for a full boot sequence.
	DefaultBootTimeout = 15 * time.Second

	// keepAliveDelay is how long after an SVS profile switch the
	// reasserting keep-alive is sent.
	keepAliveDelay = 1000 * time.Millisecond
)

// pendingCommand is the single outstanding command held while the device
// powers up. A new trigger overwrites it; only the most recent requested
// input matters.
type pendingCommand struct {
	command    string
	svsProfile int // 0 if not an SVS command
	enqueuedAt time.Time
}

// Controller owns the video processor power state machine and transport.
type Controller struct {
	tr     transport.Transport
	clk    clock.Clock
	logger *zap.Logger

	mode        PowerMode
	bootTimeout time.Duration

	state     PowerState
	pending   *pendingCommand
	wakeStart time.Time
	bootStart time.Time

	keepAliveCmd string
	keepAliveDue time.Time

	lastCommand  string
	lastResponse string
}

// New creates a controller in its initial state. In PowerModeOff the state
// is pinned to ON; otherwise it starts UNKNOWN.
func New(tr transport.Transport, mode PowerMode, bootTimeout time.Duration, clk clock.Clock, logger *zap.Logger) *Controller {
	if bootTimeout <= 0 {
		bootTimeout = DefaultBootTimeout
	}

	state := StateUnknown
	if mode == PowerModeOff {
		state = StateOn
	}

	return &Controller{
		tr:          tr,
		clk:         clk,
		logger:      logger.Named("processor"),
		mode:        mode,
		bootTimeout: bootTimeout,
		state:       state,
	}
}

// OnTrigger handles an input-change trigger: it generates the profile
// switch command and either sends it immediately or queues it behind the
// power-up sequence.
func (c *Controller) OnTrigger(m trigger.Mapping) {
	cmd, svsProfile := commandFor(m)

	switch c.mode {
	case PowerModeOff:
		c.sendWithKeepAlive(cmd, svsProfile)

	case PowerModeSimple:
		switch c.state {
		case StateOn:
			c.sendWithKeepAlive(cmd, svsProfile)
		case StateBooting:
			c.queue(cmd, svsProfile)
		default:
			// First trigger: one-shot wake, then wait out the boot
			// timeout unconditionally
			c.sendCommand("pwr on")
			c.queue(cmd, svsProfile)
			c.bootStart = c.clk.Now()
			c.setState(StateBooting)
		}

	case PowerModeFull:
		switch c.state {
		case StateOn:
			c.sendWithKeepAlive(cmd, svsProfile)
		case StateWaking, StateBooting:
			c.queue(cmd, svsProfile)
		case StateSleeping:
			c.sendCommand("pwr on")
			c.queue(cmd, svsProfile)
			c.bootStart = c.clk.Now()
			c.setState(StateBooting)
		default: // StateUnknown
			c.sendCommand("pwr on")
			c.queue(cmd, svsProfile)
			c.wakeStart = c.clk.Now()
			c.setState(StateWaking)
		}
	}
}

// Update drains inbound status lines and advances the power timers.
// Called once per loop tick.
func (c *Controller) Update() {
	c.tr.Update()
	for {
		line, ok := c.tr.ReadLine()
		if !ok {
			break
		}
		// Power transitions emit corrupted bytes; sanitize before matching
		// or logging so downstream text consumers never see them.
		line = sanitize(line)
		if line == "" {
			continue
		}
		c.lastResponse = line
		c.logger.Debug("RX", zap.String("line", line))
		if c.mode == PowerModeFull {
			c.handleStatusLine(line)
		}
	}

	c.updateTimers()
	c.updateKeepAlive()
}

// handleStatusLine tracks device power state from status output.
func (c *Controller) handleStatusLine(line string) {
	switch {
	case strings.Contains(line, "Powering Up"):
		if c.state == StateWaking {
			c.logger.Info("Device powering up - waiting for boot sequence")
			c.bootStart = c.clk.Now()
			c.setState(StateBooting)
		}

	case strings.Contains(line, "[MCU] Boot Sequence Complete"):
		if c.state == StateBooting || c.state == StateWaking {
			c.logger.Info("Boot sequence complete")
			c.setState(StateOn)
			c.flushPending()
		}

	case strings.Contains(line, "Power Off"), strings.Contains(line, "Entering Sleep"):
		c.logger.Info("Device entering sleep", zap.String("line", line))
		c.setState(StateSleeping)
		c.keepAliveCmd = ""
	}
}

// updateTimers resolves wake/boot waits by elapsed time. Every timeout ends
// in an explicit state transition; nothing is left pending indefinitely.
func (c *Controller) updateTimers() {
	switch c.state {
	case StateWaking:
		if c.clk.Since(c.wakeStart) >= wakeResponseTimeout {
			// No status line: the device was already on (or is
			// unresponsive, which is indistinguishable - assume on)
			c.logger.Info("No wake response - assuming device already on")
			c.setState(StateOn)
			c.flushPending()
		}

	case StateBooting:
		if c.clk.Since(c.bootStart) >= c.bootTimeout {
			if c.mode == PowerModeFull {
				c.logger.Warn("Boot confirmation timed out - sending queued command anyway")
			}
			c.setState(StateOn)
			c.flushPending()
		}
	}
}

// updateKeepAlive sends the scheduled profile reassertion once its delay
// elapses. At most one keep-alive is ever outstanding.
func (c *Controller) updateKeepAlive() {
	if c.keepAliveCmd == "" {
		return
	}
	if c.clk.Now().Before(c.keepAliveDue) {
		return
	}

	cmd := c.keepAliveCmd
	c.keepAliveCmd = ""
	c.sendCommand(cmd)
}

// SendRaw sends an arbitrary command, bypassing power sequencing. Used by
// the debug web interface.
func (c *Controller) SendRaw(cmd string) error {
	return c.sendCommand(cmd)
}

// State returns the current inferred power state.
func (c *Controller) State() PowerState {
	return c.state
}

// Mode returns the configured power management mode.
func (c *Controller) Mode() PowerMode {
	return c.mode
}

// LastCommand returns the most recent command sent (or that would have
// been sent while disconnected).
func (c *Controller) LastCommand() string {
	return c.lastCommand
}

// LastResponse returns the most recent sanitized status line received.
func (c *Controller) LastResponse() string {
	return c.lastResponse
}

func (c *Controller) setState(s PowerState) {
	if c.state == s {
		return
	}
	c.logger.Debug("Power state transition",
		zap.String("from", string(c.state)),
		zap.String("to", string(s)))
	c.state = s
}

func (c *Controller) queue(cmd string, svsProfile int) {
	if c.pending != nil {
		c.logger.Debug("Replacing pending command",
			zap.String("old", c.pending.command),
			zap.String("new", cmd))
	}
	c.pending = &pendingCommand{
		command:    cmd,
		svsProfile: svsProfile,
		enqueuedAt: c.clk.Now(),
	}
}

func (c *Controller) flushPending() {
	if c.pending == nil {
		return
	}
	p := c.pending
	c.pending = nil
	c.sendWithKeepAlive(p.command, p.svsProfile)
}

// sendWithKeepAlive sends a profile switch and, for SVS commands that went
// out successfully, schedules the single follow-up reassertion that
// counters the device's drift back to its default profile.
func (c *Controller) sendWithKeepAlive(cmd string, svsProfile int) {
	if err := c.sendCommand(cmd); err != nil {
		return
	}
	if svsProfile > 0 {
		c.keepAliveCmd = fmt.Sprintf("SVS CURRENT INPUT=%d", svsProfile)
		c.keepAliveDue = c.clk.Now().Add(keepAliveDelay)
	}
}

// sendCommand frames and transmits one command. The leading CR clears any
// partial input the device may be holding; the trailing CR terminates the
// command. A disconnected transport drops the command - the caller
// re-triggers, this controller never retries.
func (c *Controller) sendCommand(cmd string) error {
	c.lastCommand = cmd

	// No connectivity pre-check: the TCP transport dials lazily on its
	// first Send and reports ErrNotConnected itself when the link is down.
	if err := c.tr.Send("\r" + cmd + "\r"); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			c.logger.Warn("Not connected - would send", zap.String("cmd", cmd))
		} else {
			c.logger.Warn("Send failed", zap.String("cmd", cmd), zap.Error(err))
		}
		return err
	}

	c.logger.Debug("TX", zap.String("cmd", cmd))
	return nil
}

// commandFor generates the protocol command for a trigger mapping. The
// second return is the SVS profile number, or 0 for non-SVS commands.
func commandFor(m trigger.Mapping) (string, int) {
	if m.Mode == trigger.ModeSVS {
		return fmt.Sprintf("SVS NEW INPUT=%d", m.Profile), m.Profile
	}
	return fmt.Sprintf("remote prof%d", m.Profile), 0
}

// sanitize replaces non-printable bytes with '.' so corrupted power-on
// noise cannot break parsing or logging.
func sanitize(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if ch < 0x20 || ch > 0x7e {
			b.WriteByte('.')
		} else {
			b.WriteByte(ch)
		}
	}
	return strings.TrimSpace(b.String())
}
