package switcher

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"avbridge/internal/clock"
	"avbridge/internal/transport"

	"go.uber.org/zap"
)

const (
	// sigDebounce is how long the observed signal state must hold steady
	// before an auto-switch decision is made.
	sigDebounce = 2000 * time.Millisecond

	// maxSigInputs bounds the per-input signal bit array.
	maxSigInputs = 16

	// recentLineCapacity bounds the diagnostics line buffer.
	recentLineCapacity = 20
)

// Extron interprets the Extron SW VGA serial protocol. The switcher
// reports direct selections as "In<N> All" / "In<N> Vid" and signal
// presence as "Sig <0/1> <0/1> ...".
type Extron struct {
	tr     transport.Transport
	clk    clock.Clock
	logger *zap.Logger

	callback     InputChangeCallback
	currentInput int

	autoSwitch    bool
	signalWasLost bool

	// lastSig is the most recently observed signal state; stableSig is the
	// debounced state auto-switch decisions act on. They converge once
	// lastSig holds unchanged for sigDebounce.
	lastSig      []bool
	stableSig    []bool
	sigChangedAt time.Time

	recent *lineBuffer
}

func newExtron(tr transport.Transport, clk clock.Clock, logger *zap.Logger) *Extron {
	return &Extron{
		tr:         tr,
		clk:        clk,
		logger:     logger.Named("extron"),
		autoSwitch: true,
		recent:     newLineBuffer(recentLineCapacity),
	}
}

// Update drains received lines and runs the auto-switch debounce.
func (e *Extron) Update() {
	e.tr.Update()
	for {
		line, ok := e.tr.ReadLine()
		if !ok {
			break
		}
		line = strings.TrimSpace(line)
		if line != "" {
			e.ProcessLine(line)
		}
	}

	e.processAutoSwitch()
}

// ProcessLine consumes one already-delimited status line.
func (e *Extron) ProcessLine(line string) {
	e.logger.Debug("RX", zap.String("line", line))
	e.recent.push(line)

	switch {
	case isInputMessage(line):
		input := parseInputNumber(line)
		if input > 0 {
			e.currentInput = input
			e.logger.Info("Input changed", zap.Int("input", input))
			if e.callback != nil {
				e.callback(input)
			}
		}
	case strings.HasPrefix(line, "Sig "):
		e.parseSigMessage(line)
	}
}

// isInputMessage reports whether the line is a direct input selection.
// Examples: "In3 All", "In10 Vid", "In1 All".
func isInputMessage(line string) bool {
	return strings.HasPrefix(line, "In") &&
		(strings.Index(line, "All") > 0 || strings.Index(line, "Vid") > 0)
}

// parseInputNumber extracts the input number between the "In" prefix and
// the first space. "In10 Vid" -> 10. Returns -1 on malformed lines.
func parseInputNumber(line string) int {
	spaceIdx := strings.IndexByte(line, ' ')
	if spaceIdx <= 2 {
		return -1
	}
	n, err := strconv.Atoi(line[2:spaceIdx])
	if err != nil {
		return -1
	}
	return n
}

// parseSigMessage updates the observed signal state from a "Sig 0 1 0"
// line. Any non-0/1 character is ignored. A change in length or any bit
// restarts the debounce window.
func (e *Extron) parseSigMessage(line string) {
	newState := make([]bool, 0, maxSigInputs)
	for i := 4; i < len(line) && len(newState) < maxSigInputs; i++ {
		switch line[i] {
		case '0':
			newState = append(newState, false)
		case '1':
			newState = append(newState, true)
		}
	}

	if len(newState) == 0 {
		return
	}

	if !bitsEqual(newState, e.lastSig) {
		e.lastSig = newState
		e.sigChangedAt = e.clk.Now()
	}
}

// processAutoSwitch promotes the observed signal state to stable after the
// debounce window and acts on the highest-indexed active input.
func (e *Extron) processAutoSwitch() {
	if !e.autoSwitch || len(e.lastSig) == 0 || e.sigChangedAt.IsZero() {
		return
	}

	if bitsEqual(e.lastSig, e.stableSig) {
		return
	}

	if e.clk.Since(e.sigChangedAt) < sigDebounce {
		return
	}

	e.stableSig = append([]bool(nil), e.lastSig...)

	// Highest-indexed active input wins (1-based)
	highest := 0
	for i := len(e.stableSig) - 1; i >= 0; i-- {
		if e.stableSig[i] {
			highest = i + 1
			break
		}
	}

	if highest == 0 {
		// All signals lost - don't switch away, but remember for when a
		// signal returns
		e.signalWasLost = true
		e.logger.Debug("All signals lost - keeping current input",
			zap.Int("input", e.currentInput))
		return
	}

	if highest == e.currentInput {
		if !e.signalWasLost {
			return
		}
		// Signal restored on the current input after a loss - re-trigger
		// the callback so downstream wake sequencing runs again
		e.signalWasLost = false
		e.logger.Info("Signal restored on current input - re-triggering",
			zap.Int("input", highest))
		if e.callback != nil {
			e.callback(highest)
		}
		return
	}

	e.signalWasLost = false
	e.logger.Info("Signal detected - auto-switching", zap.Int("input", highest))
	if err := e.SendCommand(fmt.Sprintf("%d!", highest)); err != nil {
		e.logger.Warn("Auto-switch command failed", zap.Error(err))
		return
	}
	e.currentInput = highest
}

// OnInputChange registers the single input-change consumer.
func (e *Extron) OnInputChange(cb InputChangeCallback) {
	e.callback = cb
}

// CurrentInput returns the most recently selected input, 0 if none yet.
func (e *Extron) CurrentInput() int {
	return e.currentInput
}

// SendCommand writes a raw protocol command, CRLF-terminated.
func (e *Extron) SendCommand(cmd string) error {
	e.logger.Debug("TX", zap.String("cmd", cmd))
	return e.tr.Send(cmd + "\r\n")
}

// RecentLines returns up to n recent raw lines, oldest first.
func (e *Extron) RecentLines(n int) []string {
	return e.recent.recent(n)
}

// ClearRecentLines empties the diagnostics buffer.
func (e *Extron) ClearRecentLines() {
	e.recent.clear()
}

// SetAutoSwitch enables or disables signal-based auto-switching.
func (e *Extron) SetAutoSwitch(enabled bool) {
	e.autoSwitch = enabled
}

// AutoSwitchEnabled reports the auto-switch setting.
func (e *Extron) AutoSwitchEnabled() bool {
	return e.autoSwitch
}

// Kind returns the switcher model identifier.
func (e *Extron) Kind() Kind {
	return KindExtronSwVga
}

func bitsEqual(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
