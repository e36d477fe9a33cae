package transport

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

const (
	tcpConnectTimeout = 2 * time.Second
	tcpReadDeadline   = time.Millisecond
	tcpWriteDeadline  = 2 * time.Second
)

// TCP is a telnet-style network transport. The Denon AVR control protocol
// listens on port 23. Connection is lazy: the socket is dialed on the first
// Send and re-dialed after failures, with short explicit timeouts so the
// poll loop is never held up.
type TCP struct {
	address  string
	conn     net.Conn
	splitter *lineSplitter
	logger   *zap.Logger
	readBuf  []byte
}

// NewTCP creates a TCP transport for the given "host:port" address.
// It does not dial; the first Send establishes the connection.
func NewTCP(address string, framing Framing, logger *zap.Logger) *TCP {
	return &TCP{
		address:  address,
		splitter: newLineSplitter(framing),
		logger:   logger,
		readBuf:  make([]byte, 512),
	}
}

// Update drains any received bytes into the line splitter.
func (t *TCP) Update() {
	if t.conn == nil {
		return
	}

	for {
		if err := t.conn.SetReadDeadline(time.Now().Add(tcpReadDeadline)); err != nil {
			t.dropConn(err)
			return
		}

		n, err := t.conn.Read(t.readBuf)
		if n > 0 {
			t.splitter.feed(t.readBuf[:n])
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return // nothing more buffered
			}
			t.dropConn(err)
			return
		}
	}
}

// IsConnected reports whether the socket is established.
func (t *TCP) IsConnected() bool {
	return t.conn != nil
}

// Send writes data to the device, dialing first if necessary.
func (t *TCP) Send(data string) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}

	if err := t.conn.SetWriteDeadline(time.Now().Add(tcpWriteDeadline)); err != nil {
		t.dropConn(err)
		return fmt.Errorf("set write deadline: %w", err)
	}

	written, err := t.conn.Write([]byte(data))
	if err != nil {
		t.dropConn(err)
		return fmt.Errorf("write to %s: %w", t.address, err)
	}
	if written != len(data) {
		t.dropConn(fmt.Errorf("short write"))
		return fmt.Errorf("short write to %s: %d of %d bytes", t.address, written, len(data))
	}
	return nil
}

// ReadLine returns the next complete line received from the device.
func (t *TCP) ReadLine() (string, bool) {
	return t.splitter.next()
}

// Close tears down the connection.
func (t *TCP) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.splitter.reset()
	return err
}

func (t *TCP) ensureConnected() error {
	if t.conn != nil {
		return nil
	}
	if t.address == "" {
		return ErrNotConnected
	}

	conn, err := net.DialTimeout("tcp", t.address, tcpConnectTimeout)
	if err != nil {
		t.logger.Debug("TCP connect failed",
			zap.String("address", t.address),
			zap.Error(err))
		return ErrNotConnected
	}

	t.logger.Info("TCP connected", zap.String("address", t.address))
	t.conn = conn
	t.splitter.reset()
	return nil
}

func (t *TCP) dropConn(reason error) {
	t.logger.Debug("TCP connection dropped",
		zap.String("address", t.address),
		zap.Error(reason))
	t.conn.Close()
	t.conn = nil
}
