package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Serial is a UART transport. The Extron switcher speaks 9600 baud RS-232;
// the video processor's USB port enumerates as an FTDI device at 115200.
type Serial struct {
	device   string
	port     serial.Port
	splitter *lineSplitter
	logger   *zap.Logger
	readBuf  []byte
}

// NewSerial opens the given serial device.
func NewSerial(device string, baud int, framing Framing, logger *zap.Logger) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}

	// A short read timeout keeps Update non-blocking while still draining
	// whatever the device has sent since the last tick.
	if err := port.SetReadTimeout(time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", device, err)
	}

	logger.Info("Serial port opened",
		zap.String("device", device),
		zap.Int("baud", baud))

	return &Serial{
		device:   device,
		port:     port,
		splitter: newLineSplitter(framing),
		logger:   logger,
		readBuf:  make([]byte, 256),
	}, nil
}

// Update drains available bytes into the line splitter.
func (s *Serial) Update() {
	if s.port == nil {
		return
	}

	for {
		n, err := s.port.Read(s.readBuf)
		if err != nil {
			s.logger.Debug("Serial read error", zap.String("device", s.device), zap.Error(err))
			return
		}
		if n == 0 {
			return
		}
		s.splitter.feed(s.readBuf[:n])
	}
}

// IsConnected reports whether the port is open.
func (s *Serial) IsConnected() bool {
	return s.port != nil
}

// Send writes data to the port.
func (s *Serial) Send(data string) error {
	if s.port == nil {
		return ErrNotConnected
	}

	written, err := s.port.Write([]byte(data))
	if err != nil {
		return fmt.Errorf("write to %s: %w", s.device, err)
	}
	if written != len(data) {
		return fmt.Errorf("short write to %s: %d of %d bytes", s.device, written, len(data))
	}
	return nil
}

// ReadLine returns the next complete line received from the device.
func (s *Serial) ReadLine() (string, bool) {
	return s.splitter.next()
}

// Close closes the port.
func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.splitter.reset()
	return err
}
