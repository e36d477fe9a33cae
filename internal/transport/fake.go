package transport

// Fake is a test double that returns scripted lines and records sends.
type Fake struct {
	// Connected controls IsConnected and whether Send succeeds.
	Connected bool

	// Sent records every successful Send payload, in order.
	Sent []string

	// SendError, if set, is returned by Send even while connected.
	SendError error

	// Closed tracks whether Close was called.
	Closed bool

	pending []string
}

// NewFake creates a connected fake transport.
func NewFake() *Fake {
	return &Fake{Connected: true}
}

// QueueLine schedules a line to be returned by a later ReadLine.
func (f *Fake) QueueLine(line string) {
	f.pending = append(f.pending, line)
}

// Update is a no-op; queued lines are already assembled.
func (f *Fake) Update() {}

// IsConnected reports the scripted connection state.
func (f *Fake) IsConnected() bool {
	return f.Connected
}

// Send records the payload, or fails if disconnected.
func (f *Fake) Send(data string) error {
	if !f.Connected {
		return ErrNotConnected
	}
	if f.SendError != nil {
		return f.SendError
	}
	f.Sent = append(f.Sent, data)
	return nil
}

// ReadLine pops the next queued line.
func (f *Fake) ReadLine() (string, bool) {
	if len(f.pending) == 0 {
		return "", false
	}
	line := f.pending[0]
	f.pending = f.pending[1:]
	return line, true
}

// Close marks the transport as closed.
func (f *Fake) Close() error {
	f.Closed = true
	f.Connected = false
	return nil
}

// LastSent returns the most recent Send payload, or "" if none.
func (f *Fake) LastSent() string {
	if len(f.Sent) == 0 {
		return ""
	}
	return f.Sent[len(f.Sent)-1]
}
