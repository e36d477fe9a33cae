// Package transport provides line-oriented serial and network links to the
// AV devices. The real implementations use a UART or a TCP socket; the fake
// implementation allows testing without hardware.
package transport

import "errors"

// ErrNotConnected is returned by Send when the underlying link is down.
// Callers must not retry internally; the device is re-commanded on the next
// trigger.
var ErrNotConnected = errors.New("transport not connected")

// Framing selects the line terminator convention of the device protocol.
type Framing int

const (
	// FrameLF terminates lines on LF and discards CR (Extron responses).
	FrameLF Framing = iota
	// FrameCR terminates lines on CR and discards LF (Denon responses).
	FrameCR
)

// Transport is a line-oriented link to a device.
// Implementations must never block for more than a few milliseconds.
type Transport interface {
	// Update processes transport events. Called once per loop tick.
	Update()

	// IsConnected reports whether the link is currently usable.
	IsConnected() bool

	// Send writes data to the device. Returns ErrNotConnected if the link
	// is down; the data is dropped, never queued.
	Send(data string) error

	// ReadLine returns the next complete received line, with the
	// terminator stripped. The second return is false when no complete
	// line is buffered.
	ReadLine() (string, bool)

	// Close releases the link. The transport cannot be reused afterwards.
	Close() error
}

// lineSplitter assembles raw reads into terminated lines.
type lineSplitter struct {
	framing Framing
	partial []byte
	lines   []string
}

func newLineSplitter(framing Framing) *lineSplitter {
	return &lineSplitter{framing: framing}
}

// feed consumes raw bytes and queues any complete lines.
func (s *lineSplitter) feed(data []byte) {
	term, skip := byte('\n'), byte('\r')
	if s.framing == FrameCR {
		term, skip = '\r', '\n'
	}

	for _, b := range data {
		switch b {
		case term:
			if len(s.partial) > 0 {
				s.lines = append(s.lines, string(s.partial))
				s.partial = s.partial[:0]
			}
		case skip:
			// ignored
		default:
			s.partial = append(s.partial, b)
		}
	}
}

// next pops the oldest complete line.
func (s *lineSplitter) next() (string, bool) {
	if len(s.lines) == 0 {
		return "", false
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, true
}

// reset discards any buffered lines and partial input.
func (s *lineSplitter) reset() {
	s.partial = s.partial[:0]
	s.lines = nil
}
