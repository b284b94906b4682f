// Package paramsync converges an rtl_tcp server onto the desired tuning
// state by sending only the commands whose values changed.
package paramsync

import (
	"fmt"

	"github.com/rjboer/GoRTLTCP/internal/config"
	"github.com/rjboer/GoRTLTCP/internal/connectionmgr"
	"github.com/rjboer/GoRTLTCP/internal/logging"
	"github.com/rjboer/GoRTLTCP/internal/tuner"
)

// Sender transmits one control message. *connectionmgr.Manager implements it.
type Sender interface {
	SendCommand(cmd connectionmgr.Command, value uint32) error
}

// Synchronizer compares desired and last-sent values of a config.Live and
// sends the difference in a fixed order.
type Synchronizer struct {
	live   *config.Live
	sender Sender
	logger logging.Logger
}

func New(live *config.Live, sender Sender, logger logging.Logger) *Synchronizer {
	return &Synchronizer{
		live:   live,
		sender: sender,
		logger: logging.OrDefault(logger),
	}
}

// Pending reports whether a pass would send anything.
func (s *Synchronizer) Pending() bool {
	if s.live.ResyncForced() {
		return true
	}
	for _, p := range []config.Param{
		config.DirectSampling, config.OffsetTuning, config.FreqCorrection,
		config.Frequency, config.SampleRate, config.Bandwidth,
		config.TunerAGC, config.RTLAGC, config.Gain,
	} {
		if s.live.Changed(p) {
			return true
		}
	}
	return false
}

// Run performs one synchronization pass against a server whose tuner has
// caps. A field is marked sent before its command is written; the first
// send failure aborts the pass and is returned. The resync request seen at
// the start is cleared only when the whole pass succeeds; one made during
// the pass stays pending.
//
// Order: direct sampling, offset tuning, ppm, frequency, then on a sample
// rate change the burst AGC mode, gain (AGC off), bandwidth (if supported)
// and rate, followed by independent bandwidth, tuner AGC, RTL AGC and gain
// changes.
func (s *Synchronizer) Run(caps tuner.Capabilities) (sent int, err error) {
	l := s.live
	req, force := l.ResyncRequest()

	send := func(p config.Param, cmd connectionmgr.Command, value uint32, mark int64) error {
		l.MarkSent(p, mark)
		if err := s.sender.SendCommand(cmd, value); err != nil {
			return fmt.Errorf("sync %s: %w", p, err)
		}
		sent++
		return nil
	}
	due := func(p config.Param) bool { return force || l.Changed(p) }

	if due(config.DirectSampling) {
		v := l.Desired(config.DirectSampling)
		if err := send(config.DirectSampling, connectionmgr.CmdSetDirectSampling, uint32(v), v); err != nil {
			return sent, err
		}
	}
	if due(config.OffsetTuning) {
		v := l.Desired(config.OffsetTuning)
		if err := send(config.OffsetTuning, connectionmgr.CmdSetOffsetTuning, uint32(v), v); err != nil {
			return sent, err
		}
	}
	if due(config.FreqCorrection) {
		v := l.Desired(config.FreqCorrection)
		if err := send(config.FreqCorrection, connectionmgr.CmdSetFreqCorrection, uint32(int32(v)), v); err != nil {
			return sent, err
		}
	}
	if due(config.Frequency) {
		v := l.Desired(config.Frequency)
		if err := send(config.Frequency, connectionmgr.CmdSetFrequency, uint32(v), v); err != nil {
			return sent, err
		}
	}

	// A rate change resets AGC, gain and bandwidth on most dongles, so they
	// are re-asserted ahead of the rate itself.
	if due(config.SampleRate) {
		agc := l.Desired(config.TunerAGC)
		if err := send(config.TunerAGC, connectionmgr.CmdSetGainMode, uint32(1-agc), agc); err != nil {
			return sent, err
		}
		if agc == 0 {
			g := l.Desired(config.Gain)
			if err := send(config.Gain, connectionmgr.CmdSetGain, uint32(int32(g)), g); err != nil {
				return sent, err
			}
		}
		if caps.HasBandwidthControl() {
			bw := l.Desired(config.Bandwidth)
			if err := send(config.Bandwidth, connectionmgr.CmdSetTunerBandwidth, uint32(bw*1000), bw); err != nil {
				return sent, err
			}
		}
		idx := l.Desired(config.SampleRate)
		rate, ok := tuner.RateAt(int(idx))
		if !ok {
			rate, _ = tuner.RateAt(tuner.DefaultRateIndex)
		}
		if err := send(config.SampleRate, connectionmgr.CmdSetSampleRate, uint32(rate.HzInt), idx); err != nil {
			return sent, err
		}
	}

	if l.Changed(config.Bandwidth) {
		bw := l.Desired(config.Bandwidth)
		if caps.HasBandwidthControl() {
			if err := send(config.Bandwidth, connectionmgr.CmdSetTunerBandwidth, uint32(bw*1000), bw); err != nil {
				return sent, err
			}
		} else {
			l.MarkSent(config.Bandwidth, bw)
		}
	}
	if l.Changed(config.TunerAGC) {
		agc := l.Desired(config.TunerAGC)
		if err := send(config.TunerAGC, connectionmgr.CmdSetGainMode, uint32(1-agc), agc); err != nil {
			return sent, err
		}
		if agc == 0 {
			// manual mode starts from whatever gain the server had
			l.Invalidate(config.Gain)
		}
	}
	if due(config.RTLAGC) {
		v := l.Desired(config.RTLAGC)
		if err := send(config.RTLAGC, connectionmgr.CmdSetAGCMode, uint32(v), v); err != nil {
			return sent, err
		}
	}
	if l.Changed(config.Gain) {
		g := l.Desired(config.Gain)
		if l.Desired(config.TunerAGC) == 0 {
			if err := send(config.Gain, connectionmgr.CmdSetGain, uint32(int32(g)), g); err != nil {
				return sent, err
			}
		} else {
			l.MarkSent(config.Gain, g)
		}
	}

	if force {
		l.ClearResync(req)
	}
	if sent > 0 {
		s.logger.Debug("parameters synchronized", logging.F("commands", sent), logging.F("full", force))
	}
	return sent, nil
}
