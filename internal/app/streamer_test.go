package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rjboer/GoRTLTCP/internal/config"
	"github.com/rjboer/GoRTLTCP/internal/connectionmgr"
	"github.com/rjboer/GoRTLTCP/internal/logging"
	"github.com/rjboer/GoRTLTCP/internal/mockserver"
	"github.com/rjboer/GoRTLTCP/internal/pipeline"
	"github.com/rjboer/GoRTLTCP/internal/telemetry"
	"github.com/rjboer/GoRTLTCP/internal/tuner"
)

type recordingReporter struct {
	mu     sync.Mutex
	states []string
}

func (r *recordingReporter) ReportStatus(s telemetry.Status) {
	r.mu.Lock()
	r.states = append(r.states, s.State)
	r.mu.Unlock()
}

func (r *recordingReporter) seen(state State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == state.String() {
			return true
		}
	}
	return false
}

type blockSink struct {
	mu    sync.Mutex
	data  []byte
	count int
}

func (b *blockSink) deliver(blk pipeline.Block) {
	b.mu.Lock()
	b.data = append(b.data, blk.Raw...)
	b.count++
	b.mu.Unlock()
}

func (b *blockSink) snapshot() (int, []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count, append([]byte(nil), b.data...)
}

func startMock(t *testing.T, cfg mockserver.Config) *mockserver.Server {
	t.Helper()
	srv := mockserver.New(cfg, logging.Nop())
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv
}

func newTestStreamer(t *testing.T, addr string, sink *blockSink, rep telemetry.Reporter) (*Streamer, *config.Live, *config.Session) {
	t.Helper()
	live := config.NewLive()
	if err := live.SetChunkSizeIndex(0); err != nil {
		t.Fatalf("chunk size: %v", err)
	}
	session := config.NewSession()
	if err := session.SetHostPort(addr); err != nil {
		t.Fatalf("host port: %v", err)
	}
	var deliver pipeline.DeliverFunc
	if sink != nil {
		deliver = sink.deliver
	}
	s := NewStreamer(live, session, deliver, rep, logging.Nop(), Config{
		BatchDepth: 2,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
	})
	t.Cleanup(s.Release)
	return s, live, session
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamerHandshakeSyncAndDeliver(t *testing.T) {
	srv := startMock(t, mockserver.Config{Tuner: tuner.R820T, Counter: true, BlockSize: 700})
	sink := &blockSink{}
	s, live, _ := newTestStreamer(t, srv.Addr(), sink, nil)
	live.SetGain(200)
	s.SetDelivering(true)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "blocks", func() bool { n, _ := sink.snapshot(); return n >= 6 })

	if s.State() != Streaming {
		t.Fatalf("expected streaming, got %s", s.State())
	}
	info, ok := s.DeviceInfo()
	if !ok || info.Tuner != tuner.R820T {
		t.Fatalf("unexpected device info %v (%v)", info, ok)
	}
	if live.Gain() != 197 {
		t.Fatalf("expected gain clamped to 197 for R820T, got %d", live.Gain())
	}
	if s.ActiveChunkLen() != 1024 {
		t.Fatalf("expected 1 kB chunks, got %d", s.ActiveChunkLen())
	}

	_, data := sink.snapshot()
	for i, b := range data {
		if b != byte(i) {
			t.Fatalf("byte %d out of order: got %d", i, b)
		}
	}

	waitFor(t, "commands", func() bool { return len(srv.Commands()) >= 8 })
	want := []connectionmgr.Command{
		connectionmgr.CmdSetDirectSampling,
		connectionmgr.CmdSetOffsetTuning,
		connectionmgr.CmdSetFreqCorrection,
		connectionmgr.CmdSetFrequency,
		connectionmgr.CmdSetGainMode,
		connectionmgr.CmdSetTunerBandwidth,
		connectionmgr.CmdSetSampleRate,
		connectionmgr.CmdSetAGCMode,
	}
	got := srv.Commands()
	for i, c := range want {
		if got[i].Cmd != c {
			t.Fatalf("command %d: expected %s, got %s", i, c, got[i].Cmd)
		}
	}

	live.SetFrequency(433_920_000)
	waitFor(t, "frequency", func() bool { return srv.Frequency() == 433_920_000 })
	if st := s.Status(); st.Tuning == nil || st.Tuning.FrequencyHz != 433_920_000 || st.Tuning.ChunkLen != 1024 {
		t.Fatalf("expected desired tuning in status, got %+v", st.Tuning)
	}

	s.Stop()
	if s.Running() || s.State() != Idle {
		t.Fatalf("expected idle worker after stop, running=%v state=%s", s.Running(), s.State())
	}
}

func TestStreamerConvertsToS16(t *testing.T) {
	srv := startMock(t, mockserver.Config{Tuner: tuner.E4000, Counter: true})
	got := make(chan []int16, 1)
	live := config.NewLive()
	_ = live.SetChunkSizeIndex(0)
	session := config.NewSession()
	_ = session.SetHostPort(srv.Addr())
	s := NewStreamer(live, session, func(b pipeline.Block) {
		select {
		case got <- append([]int16(nil), b.S16...):
		default:
		}
	}, nil, logging.Nop(), Config{BatchDepth: 1})
	t.Cleanup(s.Release)
	s.SetConverter(pipeline.U8ToS16)
	s.SetDelivering(true)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case samples := <-got:
		if len(samples) != 1024 || samples[0] != -128 || samples[255] != 127 {
			t.Fatalf("unexpected converted block: len=%d first=%d last=%d", len(samples), samples[0], samples[255])
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for a converted block")
	}
}

func TestStreamerRejectsForeignServer(t *testing.T) {
	srv := startMock(t, mockserver.Config{Magic: "HTTP", Tuner: tuner.R820T})
	rep := &recordingReporter{}
	s, _, session := newTestStreamer(t, srv.Addr(), nil, rep)
	session.SetAutoReconnect(false)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if rep.seen(Streaming) {
		t.Fatalf("worker must not stream from a foreign server")
	}
	if _, ok := s.DeviceInfo(); ok {
		t.Fatalf("expected no device info")
	}
	if st := s.Status(); !strings.Contains(st.LastError, "not an rtl_tcp server") {
		t.Fatalf("expected protocol mismatch error, got %q", st.LastError)
	}
	if s.State() != Idle {
		t.Fatalf("expected idle, got %s", s.State())
	}
}

func TestStreamerReconnectsAfterDrop(t *testing.T) {
	srv := startMock(t, mockserver.Config{Tuner: tuner.R820T, Interval: time.Millisecond, BlockSize: 512})
	s, _, _ := newTestStreamer(t, srv.Addr(), &blockSink{}, nil)
	s.SetDelivering(true)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "first session", func() bool { return s.State() == Streaming })
	first := s.Status().Session

	srv.DropConnections()
	waitFor(t, "second session", func() bool {
		return srv.Accepted() >= 2 && s.State() == Streaming && s.Status().Session != first
	})
	if s.Status().Reconnects < 1 {
		t.Fatalf("expected a reconnect to be counted")
	}
	// a new session starts with a full resync
	waitFor(t, "resync", func() bool {
		n := 0
		for _, c := range srv.Commands() {
			if c.Cmd == connectionmgr.CmdSetSampleRate {
				n++
			}
		}
		return n >= 2
	})
}

func TestStreamerPauseKeepsConnection(t *testing.T) {
	srv := startMock(t, mockserver.Config{Tuner: tuner.R820T, Counter: true, Interval: time.Millisecond, BlockSize: 512})
	sink := &blockSink{}
	s, live, _ := newTestStreamer(t, srv.Addr(), sink, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "streaming", func() bool { return s.State() == Streaming })
	time.Sleep(50 * time.Millisecond)
	if n, _ := sink.snapshot(); n != 0 {
		t.Fatalf("expected no delivery while paused, got %d blocks", n)
	}
	if len(srv.Commands()) != 0 {
		t.Fatalf("expected no commands while paused, got %v", srv.Commands())
	}
	if !live.ResyncForced() {
		t.Fatalf("expected resync pending while paused")
	}

	s.SetDelivering(true)
	waitFor(t, "delivery", func() bool { n, _ := sink.snapshot(); return n > 0 })
	waitFor(t, "resync", func() bool { return len(srv.Commands()) >= 8 })
	if srv.Accepted() != 1 {
		t.Fatalf("expected the first connection to be kept, got %d accepts", srv.Accepted())
	}
}

func TestStreamerStartWithoutServer(t *testing.T) {
	s, _, session := newTestStreamer(t, "127.0.0.1:1", nil, nil)
	session.SetAutoReconnect(false)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if s.Status().LastError == "" {
		t.Fatalf("expected the connect failure to be recorded")
	}
}

func TestStreamerStopDuringReconnectWait(t *testing.T) {
	s, _, _ := newTestStreamer(t, "127.0.0.1:1", nil, nil)
	s.cfg.MinBackoff = time.Minute
	s.cfg.MaxBackoff = time.Minute
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "reconnect wait", func() bool { return s.State() == ReconnectWait })

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop did not interrupt the reconnect wait")
	}
}

// gatedReporter holds the first idle report until release is closed.
type gatedReporter struct {
	mu         sync.Mutex
	connecting int
	gated      bool
	entered    chan struct{}
	release    chan struct{}
}

func (r *gatedReporter) ReportStatus(s telemetry.Status) {
	r.mu.Lock()
	if s.State == Connecting.String() {
		r.connecting++
	}
	block := s.State == Idle.String() && !r.gated
	if block {
		r.gated = true
	}
	r.mu.Unlock()
	if block {
		close(r.entered)
		<-r.release
	}
}

func (r *gatedReporter) connectAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connecting
}

func TestStreamerStartWhileExitingStartsNewWorker(t *testing.T) {
	rep := &gatedReporter{entered: make(chan struct{}), release: make(chan struct{})}
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(rep.release) }) }
	defer release()

	s, _, session := newTestStreamer(t, "127.0.0.1:1", nil, rep)
	session.SetAutoReconnect(false)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-rep.entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("worker never reported idle")
	}

	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	release()

	select {
	case err := <-started:
		if err != nil {
			t.Fatalf("second start: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("second start did not return")
	}
	waitFor(t, "second connect attempt", func() bool { return rep.connectAttempts() >= 2 })
}

func TestStreamerBlockingModeChunkChangeAtHandshake(t *testing.T) {
	srv := startMock(t, mockserver.Config{Tuner: tuner.R820T, Interval: time.Millisecond, BlockSize: 512})
	var mu sync.Mutex
	sizes := make(map[int]int)
	count := func(n int) int {
		mu.Lock()
		defer mu.Unlock()
		return sizes[n]
	}

	live := config.NewLive()
	_ = live.SetChunkSizeIndex(0)
	session := config.NewSession()
	_ = session.SetHostPort(srv.Addr())
	session.SetNonBlocking(false)
	s := NewStreamer(live, session, func(b pipeline.Block) {
		mu.Lock()
		sizes[len(b.Raw)]++
		mu.Unlock()
	}, nil, logging.Nop(), Config{BatchDepth: 2, MinBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond})
	t.Cleanup(s.Release)
	s.SetDelivering(true)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "1 kB blocks", func() bool { return count(1024) >= 4 })

	if err := live.SetChunkSizeIndex(1); err != nil {
		t.Fatalf("chunk size: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := count(2048); n != 0 {
		t.Fatalf("expected no 2 kB blocks before a new handshake, got %d", n)
	}
	if s.ActiveChunkLen() != 1024 {
		t.Fatalf("expected active chunk 1024 mid-session, got %d", s.ActiveChunkLen())
	}

	srv.DropConnections()
	waitFor(t, "2 kB blocks", func() bool { return count(2048) >= 2 })
	if s.ActiveChunkLen() != 2048 {
		t.Fatalf("expected active chunk 2048 after reconnect, got %d", s.ActiveChunkLen())
	}
}
