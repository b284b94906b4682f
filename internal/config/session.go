package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/atomic"
)

const (
	DefaultAddress     = "127.0.0.1"
	DefaultPort        = 1234
	MaxPollSleepMillis = 100
)

// Session holds the connection settings. Like Live, every field may be
// changed from any goroutine; the worker reads them when it (re)connects or
// on each poll.
type Session struct {
	address       atomic.String
	port          atomic.Int32
	autoReconnect atomic.Bool
	persistent    atomic.Bool
	nonBlocking   atomic.Bool
	pollSleepMS   atomic.Int32
}

// NewSession returns the default connection settings.
func NewSession() *Session {
	s := &Session{}
	s.address.Store(DefaultAddress)
	s.port.Store(DefaultPort)
	s.autoReconnect.Store(true)
	s.persistent.Store(true)
	s.nonBlocking.Store(true)
	s.pollSleepMS.Store(1)
	return s
}

// SetAddress sets the server host name or IP.
func (s *Session) SetAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("empty server address: %w", ErrOutOfRange)
	}
	s.address.Store(addr)
	return nil
}

// Address returns the server host name or IP.
func (s *Session) Address() string { return s.address.Load() }

// SetPort sets the server TCP port.
func (s *Session) SetPort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port %d: %w", port, ErrOutOfRange)
	}
	s.port.Store(int32(port))
	return nil
}

// Port returns the server TCP port.
func (s *Session) Port() int { return int(s.port.Load()) }

// SetHostPort accepts "host:port" or a bare host and updates both fields.
func (s *Session) SetHostPort(hostport string) error {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return s.SetAddress(hostport)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("port %q: %w", portStr, ErrOutOfRange)
	}
	if err := s.SetPort(port); err != nil {
		return err
	}
	return s.SetAddress(host)
}

// HostPort returns the dial address.
func (s *Session) HostPort() string {
	return net.JoinHostPort(s.Address(), strconv.Itoa(s.Port()))
}

func (s *Session) SetAutoReconnect(on bool) { s.autoReconnect.Store(on) }
func (s *Session) AutoReconnect() bool      { return s.autoReconnect.Load() }

func (s *Session) SetPersistent(on bool) { s.persistent.Store(on) }
func (s *Session) Persistent() bool      { return s.persistent.Load() }

func (s *Session) SetNonBlocking(on bool) { s.nonBlocking.Store(on) }
func (s *Session) NonBlocking() bool      { return s.nonBlocking.Load() }

// SetPollSleepMillis sets the pause after a receive that found no data.
// Values are clamped to 0..MaxPollSleepMillis.
func (s *Session) SetPollSleepMillis(ms int) {
	if ms < 0 {
		ms = 0
	} else if ms > MaxPollSleepMillis {
		ms = MaxPollSleepMillis
	}
	s.pollSleepMS.Store(int32(ms))
}

// PollSleepMillis returns the configured poll sleep.
func (s *Session) PollSleepMillis() int { return int(s.pollSleepMS.Load()) }

// PollSleep returns the configured poll sleep as a duration.
func (s *Session) PollSleep() time.Duration {
	return time.Duration(s.pollSleepMS.Load()) * time.Millisecond
}
