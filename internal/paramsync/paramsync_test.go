package paramsync

import (
	"errors"
	"testing"

	"github.com/rjboer/GoRTLTCP/internal/config"
	"github.com/rjboer/GoRTLTCP/internal/connectionmgr"
	"github.com/rjboer/GoRTLTCP/internal/logging"
	"github.com/rjboer/GoRTLTCP/internal/tuner"
)

type frame struct {
	cmd   connectionmgr.Command
	value uint32
}

type recorder struct {
	frames []frame
	calls  int
	failAt int
	onCall func(call int)
}

func (r *recorder) SendCommand(cmd connectionmgr.Command, value uint32) error {
	r.calls++
	if r.onCall != nil {
		r.onCall(r.calls)
	}
	if r.failAt == r.calls {
		return errors.New("broken pipe")
	}
	r.frames = append(r.frames, frame{cmd, value})
	return nil
}

func (r *recorder) take() []frame {
	f := r.frames
	r.frames = nil
	return f
}

func rateHz(t *testing.T, idx int) uint32 {
	t.Helper()
	r, ok := tuner.RateAt(idx)
	if !ok {
		t.Fatalf("no rate at %d", idx)
	}
	return uint32(r.HzInt)
}

func assertFrames(t *testing.T, got, want []frame) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d commands %v, got %d %v", len(want), want, len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command %d: expected %s=%d, got %s=%d", i, want[i].cmd, want[i].value, got[i].cmd, got[i].value)
		}
	}
}

func newSync(t *testing.T) (*config.Live, *recorder, *Synchronizer) {
	t.Helper()
	live := config.NewLive()
	rec := &recorder{}
	return live, rec, New(live, rec, logging.Nop())
}

func TestFullResyncOrder(t *testing.T) {
	live, rec, s := newSync(t)
	caps := tuner.Lookup(tuner.R820T)

	n, err := s.Run(caps)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []frame{
		{connectionmgr.CmdSetDirectSampling, 0},
		{connectionmgr.CmdSetOffsetTuning, 0},
		{connectionmgr.CmdSetFreqCorrection, 0},
		{connectionmgr.CmdSetFrequency, config.DefaultFrequency},
		{connectionmgr.CmdSetGainMode, 0},
		{connectionmgr.CmdSetTunerBandwidth, 0},
		{connectionmgr.CmdSetSampleRate, rateHz(t, tuner.DefaultRateIndex)},
		{connectionmgr.CmdSetAGCMode, 0},
	}
	assertFrames(t, rec.take(), want)
	if n != len(want) {
		t.Fatalf("expected sent=%d, got %d", len(want), n)
	}
	if live.ResyncForced() {
		t.Fatalf("expected resync flag cleared after a complete pass")
	}
}

func TestSecondPassIsIdle(t *testing.T) {
	_, rec, s := newSync(t)
	caps := tuner.Lookup(tuner.E4000)
	if _, err := s.Run(caps); err != nil {
		t.Fatalf("first run: %v", err)
	}
	rec.take()
	if s.Pending() {
		t.Fatalf("expected nothing pending after a successful pass")
	}
	n, err := s.Run(caps)
	if err != nil || n != 0 || len(rec.frames) != 0 {
		t.Fatalf("expected idle second pass, got n=%d err=%v frames=%v", n, err, rec.frames)
	}
}

func TestRateChangeReassertsDependentsFirst(t *testing.T) {
	live, rec, s := newSync(t)
	caps := tuner.Lookup(tuner.R820T)
	if _, err := s.Run(caps); err != nil {
		t.Fatalf("initial run: %v", err)
	}
	live.SetTunerAGC(false)
	live.SetBandwidthKHz(1450)
	live.SetGain(197)
	if err := live.SetSampleRateIndex(3); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if _, err := s.Run(caps); err != nil {
		t.Fatalf("run: %v", err)
	}
	rec.take()

	if err := live.SetSampleRateIndex(5); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if _, err := s.Run(caps); err != nil {
		t.Fatalf("run: %v", err)
	}
	assertFrames(t, rec.take(), []frame{
		{connectionmgr.CmdSetGainMode, 1},
		{connectionmgr.CmdSetGain, 197},
		{connectionmgr.CmdSetTunerBandwidth, 1450 * 1000},
		{connectionmgr.CmdSetSampleRate, rateHz(t, 5)},
	})
}

func TestRateChangeWithoutBandwidthControl(t *testing.T) {
	live, rec, s := newSync(t)
	caps := tuner.Lookup(tuner.FC0013)
	if _, err := s.Run(caps); err != nil {
		t.Fatalf("initial run: %v", err)
	}
	rec.take()
	if err := live.SetSampleRateIndex(0); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if _, err := s.Run(caps); err != nil {
		t.Fatalf("run: %v", err)
	}
	assertFrames(t, rec.take(), []frame{
		{connectionmgr.CmdSetGainMode, 0},
		{connectionmgr.CmdSetSampleRate, rateHz(t, 0)},
	})
}

func TestTunerAGCOffResendsGain(t *testing.T) {
	live, rec, s := newSync(t)
	caps := tuner.Lookup(tuner.R820T)
	if _, err := s.Run(caps); err != nil {
		t.Fatalf("initial run: %v", err)
	}
	rec.take()

	live.SetTunerAGC(false)
	if _, err := s.Run(caps); err != nil {
		t.Fatalf("run: %v", err)
	}
	assertFrames(t, rec.take(), []frame{
		{connectionmgr.CmdSetGainMode, 1},
		{connectionmgr.CmdSetGain, config.DefaultGain},
	})

	live.SetTunerAGC(true)
	if _, err := s.Run(caps); err != nil {
		t.Fatalf("run: %v", err)
	}
	assertFrames(t, rec.take(), []frame{{connectionmgr.CmdSetGainMode, 0}})
}

func TestGainHeldBackWhileAGCOn(t *testing.T) {
	live, rec, s := newSync(t)
	caps := tuner.Lookup(tuner.R820T)
	if _, err := s.Run(caps); err != nil {
		t.Fatalf("initial run: %v", err)
	}
	rec.take()

	live.SetGain(297)
	n, err := s.Run(caps)
	if err != nil || n != 0 || len(rec.frames) != 0 {
		t.Fatalf("expected gain to be held back, got n=%d err=%v frames=%v", n, err, rec.frames)
	}
	if live.Changed(config.Gain) {
		t.Fatalf("expected gain marked as handled")
	}
}

func TestBandwidthIgnoredWithoutControl(t *testing.T) {
	live, rec, s := newSync(t)
	caps := tuner.Lookup(tuner.FC0012)
	if _, err := s.Run(caps); err != nil {
		t.Fatalf("initial run: %v", err)
	}
	rec.take()

	live.SetBandwidthKHz(2000)
	if n, err := s.Run(caps); err != nil || n != 0 {
		t.Fatalf("expected no bandwidth command, got n=%d err=%v", n, err)
	}
	if s.Pending() {
		t.Fatalf("expected bandwidth marked as handled")
	}
}

func TestNegativeCorrectionEncoding(t *testing.T) {
	live, rec, s := newSync(t)
	caps := tuner.Lookup(tuner.R820T)
	if _, err := s.Run(caps); err != nil {
		t.Fatalf("initial run: %v", err)
	}
	rec.take()

	if err := live.SetFreqCorrection(-5); err != nil {
		t.Fatalf("set ppm: %v", err)
	}
	if _, err := s.Run(caps); err != nil {
		t.Fatalf("run: %v", err)
	}
	assertFrames(t, rec.take(), []frame{{connectionmgr.CmdSetFreqCorrection, 0xFFFFFFFB}})
}

func TestSendFailureAbortsAndKeepsResync(t *testing.T) {
	live, rec, s := newSync(t)
	caps := tuner.Lookup(tuner.R820T)
	rec.failAt = 2

	n, err := s.Run(caps)
	if err == nil {
		t.Fatalf("expected send failure")
	}
	if n != 1 {
		t.Fatalf("expected one successful command before the failure, got %d", n)
	}
	if !live.ResyncForced() {
		t.Fatalf("expected resync to stay pending after a failed pass")
	}
	if live.Changed(config.OffsetTuning) {
		t.Fatalf("expected attempted field to be marked sent")
	}

	rec.failAt = 0
	rec.take()
	n, err = s.Run(caps)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n != 8 {
		t.Fatalf("expected full pass of 8 commands on retry, got %d", n)
	}
}

func TestResyncRequestedMidPassIsKept(t *testing.T) {
	live, rec, s := newSync(t)
	caps := tuner.Lookup(tuner.R820T)
	rec.onCall = func(call int) {
		if call == 3 {
			live.ForceResync()
		}
	}

	if _, err := s.Run(caps); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !live.ResyncForced() {
		t.Fatalf("expected the resync requested during the pass to stay pending")
	}

	rec.onCall = nil
	rec.take()
	n, err := s.Run(caps)
	if err != nil || n != 8 {
		t.Fatalf("expected a second full pass of 8 commands, got n=%d err=%v", n, err)
	}
	if live.ResyncForced() {
		t.Fatalf("expected resync cleared after the second pass")
	}
}
