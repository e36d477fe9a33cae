// Package receiver sequences power and input selection on the AV receiver
// and passively discovers receivers on the network via SSDP.
package receiver

import (
	"time"

	"avbridge/internal/clock"
	"avbridge/internal/transport"

	"go.uber.org/zap"
)

// siDelay is the gap between the power-on command and the input select.
// The two must go out as separate transmissions: delivering them together
// races with the receiver's own command parser.
const siDelay = 1000 * time.Millisecond

// Controller owns the receiver transport and command sequencing.
type Controller struct {
	tr     transport.Transport
	clk    clock.Clock
	logger *zap.Logger

	// input is the receiver source selected on input changes, e.g. "DVD".
	input string

	siPending   bool
	siPendingAt time.Time

	lastCommand  string
	lastResponse string

	discovery *discovery
}

// New creates a controller that selects the given receiver input.
func New(tr transport.Transport, input string, clk clock.Clock, logger *zap.Logger) *Controller {
	if input == "" {
		input = "DVD"
	}
	return &Controller{
		tr:        tr,
		clk:       clk,
		logger:    logger.Named("receiver"),
		input:     input,
		discovery: newDiscovery(clk, logger),
	}
}

// OnInputChanged powers the receiver on and schedules the input select.
// Runs on every switcher input change, whether or not a processor trigger
// exists for that input.
func (c *Controller) OnInputChanged() {
	c.send("PWON")
	c.logger.Info("Input change - sent PWON, queuing input select",
		zap.String("input", c.input))

	c.siPending = true
	c.siPendingAt = c.clk.Now()
}

// Update advances the delayed input select, drains responses, and polls
// any running discovery.
func (c *Controller) Update() {
	if c.siPending && c.clk.Since(c.siPendingAt) >= siDelay {
		c.siPending = false
		c.send("SI" + c.input)
	}

	c.tr.Update()
	for {
		line, ok := c.tr.ReadLine()
		if !ok {
			break
		}
		c.lastResponse = line
		c.logger.Debug("RX", zap.String("line", line))
	}

	c.discovery.poll()
}

// SendRaw sends an arbitrary CR-terminated command.
func (c *Controller) SendRaw(cmd string) error {
	return c.send(cmd)
}

// IsConnected reports whether the receiver transport is up.
func (c *Controller) IsConnected() bool {
	return c.tr.IsConnected()
}

// LastCommand returns the most recent command sent.
func (c *Controller) LastCommand() string {
	return c.lastCommand
}

// LastResponse returns the most recent line received.
func (c *Controller) LastResponse() string {
	return c.lastResponse
}

// StartDiscovery begins an SSDP search for receivers on the network.
// Returns ErrDiscoveryBusy if a search is already running.
func (c *Controller) StartDiscovery() error {
	return c.discovery.start()
}

// IsDiscoveryComplete reports whether no discovery is currently running.
func (c *Controller) IsDiscoveryComplete() bool {
	return !c.discovery.running
}

// DiscoveryResults returns the devices found by the most recent search.
func (c *Controller) DiscoveryResults() []DiscoveredDevice {
	return c.discovery.results()
}

// send transmits one CR-terminated command.
func (c *Controller) send(cmd string) error {
	c.lastCommand = cmd

	if err := c.tr.Send(cmd + "\r"); err != nil {
		c.logger.Warn("Send failed", zap.String("cmd", cmd), zap.Error(err))
		return err
	}

	c.logger.Debug("TX", zap.String("cmd", cmd))
	return nil
}
