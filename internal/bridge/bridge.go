// Package bridge wires the switcher monitor, trigger table, processor and
// receiver controllers into one poll-driven unit. Input changes fan out to
// every downstream device; telemetry and event listeners observe the flow.
package bridge

import (
	"errors"
	"sync"

	"avbridge/internal/clock"
	"avbridge/internal/processor"
	"avbridge/internal/receiver"
	"avbridge/internal/switcher"
	"avbridge/internal/telemetry"
	"avbridge/internal/trigger"
	"avbridge/internal/wifi"

	"go.uber.org/zap"
)

// ErrReceiverDisabled is returned by receiver operations when no receiver
// controller is configured.
var ErrReceiverDisabled = errors.New("receiver is disabled")

// EventListener observes every bridge event, after telemetry.
type EventListener func(telemetry.Event)

// Status is a point-in-time snapshot of every component, served by the web
// API and published over telemetry.
type Status struct {
	Input          int    `json:"input"`
	AutoSwitch     bool   `json:"autoSwitch"`
	SwitcherKind   string `json:"switcherKind"`
	PowerState     string `json:"powerState"`
	PowerMode      string `json:"powerMode"`
	LastCommand    string `json:"lastCommand,omitempty"`
	LastResponse   string `json:"lastResponse,omitempty"`
	ReceiverOnline *bool  `json:"receiverOnline,omitempty"`
	WifiState      string `json:"wifiState,omitempty"`
	TriggerCount   int    `json:"triggerCount"`
}

// Bridge owns the component graph. All entry points serialize on one
// mutex so handlers and the poll loop never interleave inside a
// component.
type Bridge struct {
	mu sync.Mutex

	sw    switcher.Monitor
	table *trigger.Table
	proc  *processor.Controller
	recv  *receiver.Controller // nil when the receiver is disabled
	wifi  *wifi.Manager        // nil when connectivity is managed externally
	pub   telemetry.Publisher
	clk   clock.Clock

	logger    *zap.Logger
	listeners []EventListener
}

// New wires the components together. recv and wm may be nil.
func New(sw switcher.Monitor, table *trigger.Table, proc *processor.Controller,
	recv *receiver.Controller, wm *wifi.Manager, pub telemetry.Publisher,
	clk clock.Clock, logger *zap.Logger) *Bridge {

	b := &Bridge{
		sw:     sw,
		table:  table,
		proc:   proc,
		recv:   recv,
		wifi:   wm,
		pub:    pub,
		clk:    clk,
		logger: logger.Named("bridge"),
	}

	sw.OnInputChange(b.handleInputChange)
	if wm != nil {
		wm.OnStateChange(func(s wifi.State) {
			b.emit(telemetry.Event{
				Timestamp: clk.Now(),
				Kind:      "wifi_state",
				State:     string(s),
			})
		})
	}
	return b
}

// AddListener registers an event observer. Must be called before the poll
// loop starts.
func (b *Bridge) AddListener(l EventListener) {
	b.listeners = append(b.listeners, l)
}

// Update advances every component by one tick.
func (b *Bridge) Update() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wifi != nil {
		b.wifi.Update()
	}
	b.sw.Update()
	b.proc.Update()
	if b.recv != nil {
		b.recv.Update()
	}
}

// handleInputChange runs inside the switcher's Update, already under the
// bridge mutex. The receiver follows every input change; only the
// processor needs a trigger mapping.
func (b *Bridge) handleInputChange(input int) {
	if b.recv != nil {
		b.recv.OnInputChanged()
	}

	detail := ""
	if mapping, ok := b.table.Lookup(input); ok {
		b.logger.Info("Input change",
			zap.Int("input", input),
			zap.String("mapping", mapping.Name))
		b.proc.OnTrigger(mapping)
		detail = mapping.Name
	} else {
		b.logger.Debug("No trigger mapping for input", zap.Int("input", input))
	}

	b.emit(telemetry.Event{
		Timestamp: b.clk.Now(),
		Kind:      "input_change",
		Input:     input,
		Detail:    detail,
	})
}

func (b *Bridge) emit(ev telemetry.Event) {
	if err := b.pub.Publish(ev); err != nil {
		b.logger.Warn("Telemetry publish failed", zap.Error(err))
	}
	for _, l := range b.listeners {
		l(ev)
	}
}

// Status snapshots every component.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Status{
		Input:        b.sw.CurrentInput(),
		AutoSwitch:   b.sw.AutoSwitchEnabled(),
		SwitcherKind: string(b.sw.Kind()),
		PowerState:   string(b.proc.State()),
		PowerMode:    string(b.proc.Mode()),
		LastCommand:  b.proc.LastCommand(),
		LastResponse: b.proc.LastResponse(),
		TriggerCount: b.table.Len(),
	}
	if b.recv != nil {
		online := b.recv.IsConnected()
		s.ReceiverOnline = &online
	}
	if b.wifi != nil {
		s.WifiState = string(b.wifi.State())
	}
	return s
}

// SetTriggerTable swaps the dispatch table wholesale, for configuration
// saves. Partial mutation is never exposed.
func (b *Bridge) SetTriggerTable(table *trigger.Table) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.table = table
	b.logger.Info("Trigger table replaced", zap.Int("mappings", table.Len()))
}

// SetAutoSwitch toggles signal-based auto-switching at runtime.
func (b *Bridge) SetAutoSwitch(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sw.SetAutoSwitch(enabled)
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	b.emit(telemetry.Event{
		Timestamp: b.clk.Now(),
		Kind:      "auto_switch",
		State:     state,
	})
}

// RecentSwitcherLines returns up to n recent raw switcher lines.
func (b *Bridge) RecentSwitcherLines(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sw.RecentLines(n)
}

// SendSwitcherCommand passes a raw command to the switcher.
func (b *Bridge) SendSwitcherCommand(cmd string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sw.SendCommand(cmd)
}

// SendProcessorCommand passes a raw command to the video processor.
func (b *Bridge) SendProcessorCommand(cmd string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.proc.SendRaw(cmd)
}

// SendReceiverCommand passes a raw command to the receiver.
func (b *Bridge) SendReceiverCommand(cmd string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.recv == nil {
		return ErrReceiverDisabled
	}
	return b.recv.SendRaw(cmd)
}

// StartReceiverDiscovery begins an SSDP scan for receivers.
func (b *Bridge) StartReceiverDiscovery() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.recv == nil {
		return ErrReceiverDisabled
	}
	return b.recv.StartDiscovery()
}

// ReceiverDiscovery reports scan completion and results so far.
func (b *Bridge) ReceiverDiscovery() (bool, []receiver.DiscoveredDevice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.recv == nil {
		return true, nil
	}
	return b.recv.IsDiscoveryComplete(), b.recv.DiscoveryResults()
}
