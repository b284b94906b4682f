package connectionmgr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rjboer/GoRTLTCP/internal/logging"
)

var (
	// ErrNotConnected is returned by I/O helpers before Connect or after Close.
	ErrNotConnected = errors.New("not connected")
	// ErrWouldBlock reports that no sample data was available within the
	// receive window. It is not a connection failure.
	ErrWouldBlock = errors.New("no data available")
	// ErrProtocolMismatch reports a peer that does not open with "RTL0".
	ErrProtocolMismatch = errors.New("peer is not an rtl_tcp server")
	// ErrShortWrite reports a control message that went out partially.
	ErrShortWrite = errors.New("short command write")
)

// nonBlockingWindow is how long a non-blocking receive waits for data.
const nonBlockingWindow = time.Millisecond

// Manager owns the TCP socket to one rtl_tcp server.
type Manager struct {
	Address string
	// Timeout bounds dialing and each command write.
	Timeout time.Duration
	// ReadTimeout bounds a blocking receive so that cancellation is noticed.
	// Zero disables the read deadline.
	ReadTimeout time.Duration
	// NonBlocking makes Receive return ErrWouldBlock almost immediately
	// when nothing is buffered.
	NonBlocking bool
	// PollSleep is the pause between empty polls while waiting for the
	// handshake in non-blocking mode.
	PollSleep time.Duration
	Logger    logging.Logger

	conn net.Conn
}

// ---------- Construction / lifecycle ----------

func New(addr string) *Manager {
	return &Manager{
		Address:     addr,
		Timeout:     5 * time.Second,
		ReadTimeout: 250 * time.Millisecond,
		NonBlocking: true,
		PollSleep:   time.Millisecond,
	}
}

// Connect dials Address. An existing connection is closed first.
func (m *Manager) Connect(ctx context.Context) error {
	if m.conn != nil {
		_ = m.Close()
	}
	d := net.Dialer{Timeout: m.Timeout}
	c, err := d.DialContext(ctx, "tcp", m.Address)
	if err != nil {
		return fmt.Errorf("connect %s: %w", m.Address, err)
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	m.conn = c
	m.logger().Debug("connected", logging.F("address", m.Address))
	return nil
}

// Safe reinjection (tests, tunnels, etc.)
func (m *Manager) SetConn(conn net.Conn) {
	m.conn = conn
}

// Connected reports whether a socket is held.
func (m *Manager) Connected() bool {
	return m.conn != nil
}

// Close releases the socket. It is safe to call repeatedly.
func (m *Manager) Close() error {
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}

// ---------- Logging ----------

func (m *Manager) logger() logging.Logger {
	return logging.OrDefault(m.Logger)
}

// ---------- Raw I/O ----------

func (m *Manager) applyWriteDeadline() {
	if m.conn != nil && m.Timeout > 0 {
		_ = m.conn.SetWriteDeadline(time.Now().Add(m.Timeout))
	}
}

func (m *Manager) applyReadDeadline() {
	if m.conn == nil {
		return
	}
	switch {
	case m.NonBlocking:
		_ = m.conn.SetReadDeadline(time.Now().Add(nonBlockingWindow))
	case m.ReadTimeout > 0:
		_ = m.conn.SetReadDeadline(time.Now().Add(m.ReadTimeout))
	default:
		_ = m.conn.SetReadDeadline(time.Time{})
	}
}

// SendCommand writes one 5-byte control message in a single write.
func (m *Manager) SendCommand(cmd Command, value uint32) error {
	if m.conn == nil {
		return fmt.Errorf("send %s: %w", cmd, ErrNotConnected)
	}
	frame := EncodeCommand(cmd, value)
	m.applyWriteDeadline()
	n, err := m.conn.Write(frame[:])
	if n < CommandLen {
		if err != nil {
			return fmt.Errorf("send %s: wrote %d of %d bytes: %w: %w", cmd, n, CommandLen, ErrShortWrite, err)
		}
		return fmt.Errorf("send %s: wrote %d of %d bytes: %w", cmd, n, CommandLen, ErrShortWrite)
	}
	m.logger().Debug("command sent", logging.F("cmd", cmd), logging.F("value", value))
	return nil
}

// Receive reads whatever is available into p. A receive window that
// expires without data yields ErrWouldBlock. Any other failure, including
// an orderly close by the peer, is returned wrapped.
func (m *Manager) Receive(p []byte) (int, error) {
	if m.conn == nil {
		return 0, ErrNotConnected
	}
	if len(p) == 0 {
		return 0, nil
	}
	m.applyReadDeadline()
	n, err := m.conn.Read(p)
	if err == nil {
		return n, nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		if n > 0 {
			return n, nil
		}
		return 0, ErrWouldBlock
	}
	if n > 0 {
		// the error resurfaces on the next read
		return n, nil
	}
	return 0, fmt.Errorf("receive: %w", err)
}

// ReadHandshake accumulates the 12-byte header across partial reads.
// The magic is checked as soon as its four bytes are in.
func (m *Manager) ReadHandshake(ctx context.Context) (DeviceInfo, error) {
	var hdr [HandshakeLen]byte
	got := 0
	for got < HandshakeLen {
		if err := ctx.Err(); err != nil {
			return DeviceInfo{}, err
		}
		n, err := m.Receive(hdr[got:])
		if n > 0 {
			before := got
			got += n
			if before < len(Magic) && got >= len(Magic) && string(hdr[:len(Magic)]) != string(Magic[:]) {
				return DeviceInfo{}, fmt.Errorf("%w: received %q", ErrProtocolMismatch, hdr[:len(Magic)])
			}
		}
		switch {
		case errors.Is(err, ErrWouldBlock):
			if m.NonBlocking && m.PollSleep > 0 {
				if err := sleepCtx(ctx, m.PollSleep); err != nil {
					return DeviceInfo{}, err
				}
			}
		case err != nil:
			return DeviceInfo{}, fmt.Errorf("read handshake after %d bytes: %w", got, err)
		}
	}
	info, err := ParseHandshake(hdr[:])
	if err != nil {
		return DeviceInfo{}, err
	}
	m.logger().Info("rtl_tcp handshake", logging.F("tuner", info.Tuner), logging.F("gains", info.GainCount))
	return info, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
