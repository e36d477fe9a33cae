// Package switcher interprets the video switcher's line-oriented serial
// status stream: direct input-select messages, per-input signal presence,
// and debounced auto-switch decisions.
package switcher

import (
	"fmt"

	"avbridge/internal/clock"
	"avbridge/internal/transport"

	"go.uber.org/zap"
)

// Kind identifies a supported switcher model.
type Kind string

// KindExtronSwVga is the Extron SW VGA series over RS-232.
const KindExtronSwVga Kind = "Extron SW VGA"

// InputChangeCallback receives the new input number (1-based) whenever the
// switcher selects an input, or when a stable signal decision re-asserts
// the current one after a loss.
type InputChangeCallback func(input int)

// Monitor is a video switcher protocol interpreter. All methods are called
// from the single poll loop; none blocks.
type Monitor interface {
	// Update drains received lines and runs the auto-switch debounce.
	Update()

	// ProcessLine consumes one already-delimited status line.
	ProcessLine(line string)

	// OnInputChange registers the single input-change consumer.
	OnInputChange(cb InputChangeCallback)

	// CurrentInput returns the most recently selected input, 0 if none yet.
	CurrentInput() int

	// SendCommand writes a raw protocol command to the switcher.
	SendCommand(cmd string) error

	// RecentLines returns up to n recent raw lines, oldest first.
	RecentLines(n int) []string

	// ClearRecentLines empties the diagnostics buffer.
	ClearRecentLines()

	// SetAutoSwitch enables or disables signal-based auto-switching.
	SetAutoSwitch(enabled bool)

	// AutoSwitchEnabled reports the auto-switch setting.
	AutoSwitchEnabled() bool

	// Kind returns the switcher model identifier.
	Kind() Kind
}

// New creates a monitor for the given switcher kind.
func New(kind Kind, tr transport.Transport, clk clock.Clock, logger *zap.Logger) (Monitor, error) {
	switch kind {
	case KindExtronSwVga:
		return newExtron(tr, clk, logger), nil
	default:
		return nil, fmt.Errorf("unknown switcher kind %q", kind)
	}
}
