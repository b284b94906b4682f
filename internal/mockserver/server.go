// Package mockserver is an in-process rtl_tcp server that synthesizes an
// unsigned 8-bit I/Q tone and records the control messages it receives.
package mockserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/rjboer/GoRTLTCP/internal/connectionmgr"
	"github.com/rjboer/GoRTLTCP/internal/logging"
	"github.com/rjboer/GoRTLTCP/internal/tuner"
)

// Config describes the simulated dongle.
type Config struct {
	Tuner tuner.Tuner
	// GainCount defaults to the size of the tuner's gain table.
	GainCount uint32
	// Magic replaces "RTL0" in the handshake when set.
	Magic string
	// SampleRate is the initial rate; set_sample_rate commands change it.
	SampleRate int
	// ToneOffset is the tone frequency relative to the center in Hz.
	ToneOffset float64
	// BlockSize is the number of bytes per write.
	BlockSize int
	// Interval is the pause between writes. Zero streams as fast as the
	// client reads.
	Interval time.Duration
	// Counter replaces the tone with a running byte counter so receivers
	// can verify ordering.
	Counter bool
}

func (c Config) withDefaults() Config {
	if c.GainCount == 0 {
		c.GainCount = uint32(len(tuner.Lookup(c.Tuner).Gains))
	}
	if c.SampleRate == 0 {
		c.SampleRate = 2_048_000
	}
	if c.ToneOffset == 0 {
		c.ToneOffset = 100e3
	}
	if c.BlockSize <= 0 {
		c.BlockSize = 16 * 1024
	}
	return c
}

// Received is one decoded control message.
type Received struct {
	Cmd   connectionmgr.Command
	Value uint32
}

// Server accepts any number of clients and streams to each independently.
type Server struct {
	cfg    Config
	logger logging.Logger

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	commands []Received

	accepted   atomic.Int64
	frequency  atomic.Uint32
	sampleRate atomic.Uint32
}

func New(cfg Config, logger logging.Logger) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:    cfg,
		logger: logging.OrDefault(logger).With(logging.F("subsystem", "mockserver")),
		conns:  make(map[net.Conn]struct{}),
	}
	s.sampleRate.Store(uint32(cfg.SampleRate))
	return s
}

// Listen binds addr ("127.0.0.1:0" picks a free port).
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr is the bound address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve accepts clients until ctx ends or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("mockserver: Listen not called")
	}
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.accepted.Inc()
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		go s.handle(ctx, c)
	}
}

// Close stops accepting and drops every client.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.DropConnections()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// DropConnections closes every active client socket.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
		delete(s.conns, c)
	}
}

// Accepted is the number of clients served so far.
func (s *Server) Accepted() int { return int(s.accepted.Load()) }

// Commands returns the control messages received so far, across clients.
func (s *Server) Commands() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Received, len(s.commands))
	copy(out, s.commands)
	return out
}

// Frequency and SampleRate report the last values commanded.
func (s *Server) Frequency() uint32  { return s.frequency.Load() }
func (s *Server) SampleRate() uint32 { return s.sampleRate.Load() }

func (s *Server) handle(ctx context.Context, c net.Conn) {
	defer func() {
		_ = c.Close()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()
	log := s.logger.With(logging.F("remote", c.RemoteAddr().String()))

	hdr := connectionmgr.EncodeHandshake(connectionmgr.DeviceInfo{Tuner: s.cfg.Tuner, GainCount: s.cfg.GainCount})
	if s.cfg.Magic != "" {
		copy(hdr[:4], s.cfg.Magic)
	}
	if _, err := c.Write(hdr[:]); err != nil {
		log.Warn("handshake write failed", logging.Err(err))
		return
	}
	log.Debug("client connected")

	go s.readCommands(c, log)

	gen := newGenerator(s.cfg)
	buf := make([]byte, s.cfg.BlockSize)
	for {
		if ctx.Err() != nil {
			return
		}
		gen.fill(buf, float64(s.sampleRate.Load()))
		if _, err := c.Write(buf); err != nil {
			log.Debug("client gone", logging.Err(err))
			return
		}
		if s.cfg.Interval > 0 {
			time.Sleep(s.cfg.Interval)
		}
	}
}

func (s *Server) readCommands(c net.Conn, log logging.Logger) {
	frame := make([]byte, connectionmgr.CommandLen)
	for {
		if _, err := io.ReadFull(c, frame); err != nil {
			return
		}
		cmd, v, _ := connectionmgr.DecodeCommand(frame)
		switch cmd {
		case connectionmgr.CmdSetFrequency:
			s.frequency.Store(v)
		case connectionmgr.CmdSetSampleRate:
			s.sampleRate.Store(v)
		}
		s.mu.Lock()
		s.commands = append(s.commands, Received{Cmd: cmd, Value: v})
		s.mu.Unlock()
		log.Debug("command", logging.F("cmd", cmd), logging.F("value", v))
	}
}

// generator produces interleaved unsigned 8-bit I/Q.
type generator struct {
	counter bool
	tone    float64
	phase   float64
	next    byte
}

func newGenerator(cfg Config) *generator {
	return &generator{counter: cfg.Counter, tone: cfg.ToneOffset}
}

func (g *generator) fill(p []byte, sampleRate float64) {
	if g.counter {
		for i := range p {
			p[i] = g.next
			g.next++
		}
		return
	}
	if sampleRate <= 0 {
		sampleRate = 2_048_000
	}
	step := 2 * math.Pi * g.tone / sampleRate
	for i := 0; i+1 < len(p); i += 2 {
		noiseI := rand.NormFloat64() * 2
		noiseQ := rand.NormFloat64() * 2
		p[i] = toU8(100*math.Cos(g.phase) + noiseI)
		p[i+1] = toU8(100*math.Sin(g.phase) + noiseQ)
		g.phase = math.Mod(g.phase+step, 2*math.Pi)
	}
}

func toU8(v float64) byte {
	v = math.Round(v + 127.5)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
