package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/rjboer/GoRTLTCP/internal/config"
	"github.com/rjboer/GoRTLTCP/internal/connectionmgr"
	"github.com/rjboer/GoRTLTCP/internal/logging"
	"github.com/rjboer/GoRTLTCP/internal/paramsync"
	"github.com/rjboer/GoRTLTCP/internal/pipeline"
	"github.com/rjboer/GoRTLTCP/internal/telemetry"
)

// Config captures worker tuning that is not part of the host settings.
type Config struct {
	// BatchDepth is the number of chunks collected before the first burst.
	BatchDepth int
	// ReadTimeout bounds a receive in blocking mode.
	ReadTimeout time.Duration
	// DialTimeout bounds connecting and each command write.
	DialTimeout time.Duration
	// MinBackoff and MaxBackoff bound the wait between reconnect attempts.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// StatusInterval is how often counters are reported while streaming.
	StatusInterval time.Duration
}

const (
	DefaultBatchDepth = 4
)

func (c Config) withDefaults() Config {
	if c.BatchDepth <= 0 {
		c.BatchDepth = DefaultBatchDepth
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 250 * time.Millisecond
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = 10 * time.Second
		if c.MaxBackoff < c.MinBackoff {
			c.MaxBackoff = c.MinBackoff
		}
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = time.Second
	}
	return c
}

// Streamer runs the connect, handshake, synchronize and receive loop against
// one rtl_tcp server in a single goroutine.
type Streamer struct {
	live     *config.Live
	session  *config.Session
	deliver  pipeline.DeliverFunc
	reporter telemetry.Reporter
	logger   logging.Logger
	cfg      Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	exiting bool // run is past its loop and only cleaning up
	rs      *pipeline.Reassembler

	state      atomic.Int32
	delivering atomic.Bool
	converter  atomic.Int32
	chunkLen   atomic.Int32
	sessionID  atomic.String
	lastErr    atomic.String

	infoMu  sync.RWMutex
	info    connectionmgr.DeviceInfo
	hasInfo bool

	reconnects atomic.Int64
	bytes      atomic.Int64
	blocks     atomic.Int64
	commands   atomic.Int64
}

// NewStreamer wires a worker. deliver receives every completed chunk on the
// worker goroutine; the block must not be retained after it returns.
func NewStreamer(live *config.Live, session *config.Session, deliver pipeline.DeliverFunc, reporter telemetry.Reporter, logger logging.Logger, cfg Config) *Streamer {
	return &Streamer{
		live:     live,
		session:  session,
		deliver:  deliver,
		reporter: reporter,
		logger:   logging.OrDefault(logger).With(logging.F("subsystem", "streamer")),
		cfg:      cfg.withDefaults(),
	}
}

// SetConverter selects the sample conversion used from the next handshake on.
func (s *Streamer) SetConverter(c pipeline.Converter) { s.converter.Store(int32(c)) }

// Converter returns the selected sample conversion.
func (s *Streamer) Converter() pipeline.Converter { return pipeline.Converter(s.converter.Load()) }

// State returns the current lifecycle state.
func (s *Streamer) State() State { return State(s.state.Load()) }

// Running reports whether the worker goroutine is alive.
func (s *Streamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// Delivering reports whether completed chunks are handed to the consumer.
func (s *Streamer) Delivering() bool { return s.delivering.Load() }

// SetDelivering pauses or resumes delivery without touching the connection.
// While paused the socket keeps being drained and no commands are sent;
// resuming forces a full resync.
func (s *Streamer) SetDelivering(on bool) {
	if prev := s.delivering.Swap(on); on && !prev {
		s.live.ForceResync()
	}
}

// ActiveChunkLen is the chunk length of the current session, or 0 before
// the first handshake.
func (s *Streamer) ActiveChunkLen() int { return int(s.chunkLen.Load()) }

// DeviceInfo returns what the last handshake reported.
func (s *Streamer) DeviceInfo() (connectionmgr.DeviceInfo, bool) {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	return s.info, s.hasInfo
}

// Start launches the worker. Receive buffers are allocated on the first call;
// an allocation failure is returned and nothing is started. Starting a
// running worker is a no-op; a worker that is already exiting is waited for
// and replaced.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.done != nil && s.exiting {
		done := s.done
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}
	if s.done != nil {
		return nil
	}
	if s.rs == nil {
		rs, err := pipeline.New(s.cfg.BatchDepth, config.MaxChunkLen)
		if err != nil {
			return fmt.Errorf("start streamer: %w", err)
		}
		s.rs = rs
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go s.run(runCtx, done)
	return nil
}

// Stop cancels the worker and waits for it to exit.
func (s *Streamer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the worker exits on its own or ctx ends.
func (s *Streamer) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the receive buffers. It stops the worker first.
func (s *Streamer) Release() {
	s.Stop()
	s.mu.Lock()
	s.rs = nil
	s.mu.Unlock()
}

// Status builds a snapshot for telemetry.
func (s *Streamer) Status() telemetry.Status {
	st := telemetry.Status{
		Timestamp:       time.Now(),
		Session:         s.sessionID.Load(),
		State:           s.State().String(),
		Address:         s.session.HostPort(),
		Delivering:      s.Delivering(),
		Reconnects:      s.reconnects.Load(),
		BytesReceived:   s.bytes.Load(),
		BlocksDelivered: s.blocks.Load(),
		CommandsSent:    s.commands.Load(),
		LastError:       s.lastErr.Load(),
	}
	tuning := s.live.Snapshot()
	st.Tuning = &tuning
	if info, ok := s.DeviceInfo(); ok {
		st.HasInfo = true
		st.Tuner = info.Tuner.String()
		st.GainCount = info.GainCount
	}
	return st
}

func (s *Streamer) report() {
	if s.reporter != nil {
		s.reporter.ReportStatus(s.Status())
	}
}

func (s *Streamer) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.logger.Info("state change", logging.F("state", st), logging.F("session", s.sessionID.Load()))
	s.report()
}

func (s *Streamer) setInfo(info connectionmgr.DeviceInfo) {
	s.infoMu.Lock()
	s.info, s.hasInfo = info, true
	s.infoMu.Unlock()
}

func (s *Streamer) run(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.exiting = true
		s.mu.Unlock()
		s.setState(Idle)
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.cancel, s.done, s.exiting = nil, nil, false
		s.mu.Unlock()
		close(done)
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.MinBackoff
	bo.MaxInterval = s.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		err := s.runSession(ctx, bo)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.lastErr.Store(err.Error())
			s.logger.Warn("connection lost", logging.F("address", s.session.HostPort()), logging.F("session", s.sessionID.Load()), logging.Err(err))
		}
		if !s.session.AutoReconnect() {
			return
		}
		s.setState(ReconnectWait)
		s.reconnects.Inc()
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			wait = s.cfg.MaxBackoff
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return
		}
	}
}

// runSession performs one connect/handshake/stream cycle and returns the
// error that ended it.
func (s *Streamer) runSession(ctx context.Context, bo backoff.BackOff) error {
	sid := uuid.NewString()
	s.sessionID.Store(sid)
	log := s.logger.With(logging.F("session", sid))
	s.setState(Connecting)

	m := connectionmgr.New(s.session.HostPort())
	m.Timeout = s.cfg.DialTimeout
	m.ReadTimeout = s.cfg.ReadTimeout
	m.NonBlocking = s.session.NonBlocking()
	m.PollSleep = s.session.PollSleep()
	m.Logger = log
	if err := m.Connect(ctx); err != nil {
		return err
	}
	defer m.Close()
	defer s.rs.Discard()

	s.setState(Handshaking)
	info, err := m.ReadHandshake(ctx)
	if err != nil {
		return err
	}
	caps := info.Capabilities()
	s.setInfo(info)
	s.live.SetBandwidthKHz(caps.NearestBandwidth(s.live.BandwidthKHz()))
	if caps.HasGainControl() {
		s.live.SetGain(caps.NearestGain(s.live.Gain()))
	}
	s.live.ForceResync()

	chunk := s.live.ChunkLen()
	if err := s.rs.Reset(chunk, s.Converter()); err != nil {
		return err
	}
	s.chunkLen.Store(int32(chunk))
	bo.Reset()
	log.Info("streaming", logging.F("tuner", info.Tuner), logging.F("gains", info.GainCount),
		logging.F("chunk", chunk), logging.F("format", s.Converter()))
	s.setState(Streaming)

	return s.stream(ctx, m, paramsync.New(s.live, m, log), info)
}

func (s *Streamer) stream(ctx context.Context, m *connectionmgr.Manager, ps *paramsync.Synchronizer, info connectionmgr.DeviceInfo) error {
	caps := info.Capabilities()
	deliver := func(b pipeline.Block) {
		if s.deliver != nil {
			s.deliver(b)
		}
	}
	lastReport := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delivering := s.delivering.Load()
		if delivering && ps.Pending() {
			n, err := ps.Run(caps)
			s.commands.Add(int64(n))
			if err != nil {
				return err
			}
		}

		n, err := m.Receive(s.rs.Space())
		if n > 0 {
			s.bytes.Add(int64(n))
			var sink pipeline.DeliverFunc
			if delivering {
				sink = deliver
			}
			d, dropped := s.rs.Commit(n, sink)
			s.blocks.Add(int64(d))
			if dropped {
				s.live.ForceResync()
			}
		}
		switch {
		case errors.Is(err, connectionmgr.ErrWouldBlock):
			if m.NonBlocking {
				if err := sleepCtx(ctx, s.session.PollSleep()); err != nil {
					return err
				}
			}
		case err != nil:
			return err
		}

		if time.Since(lastReport) >= s.cfg.StatusInterval {
			lastReport = time.Now()
			s.report()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
