// Package config holds the runtime configuration shared between the host
// and the streaming worker, the indexed settings surface exposed to hosts and
// its persistent key/value store.
package config

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/atomic"

	"github.com/rjboer/GoRTLTCP/internal/tuner"
)

var (
	// ErrOutOfRange is returned when a value is rejected at the write boundary.
	ErrOutOfRange = errors.New("value out of range")
	// ErrUnknownSetting is returned for an index outside the settings table.
	ErrUnknownSetting = errors.New("unknown setting")
)

// Param identifies a tunable that is synchronized to the server.
type Param int

const (
	DirectSampling Param = iota
	OffsetTuning
	FreqCorrection
	Frequency
	SampleRate
	Bandwidth
	TunerAGC
	RTLAGC
	Gain
	numParams
)

var paramNames = [numParams]string{
	"direct_sampling", "offset_tuning", "freq_correction", "frequency",
	"sample_rate", "bandwidth", "tuner_agc", "rtl_agc", "gain",
}

func (p Param) String() string {
	if p >= 0 && p < numParams {
		return paramNames[p]
	}
	return fmt.Sprintf("param(%d)", int(p))
}

// DirectSamplingMode selects the ADC branch fed straight from the antenna.
type DirectSamplingMode int

const (
	DirectSamplingOff DirectSamplingMode = iota
	DirectSamplingI
	DirectSamplingQ
)

func (m DirectSamplingMode) String() string {
	switch m {
	case DirectSamplingOff:
		return "disabled: tuner I/Q"
	case DirectSamplingI:
		return "direct sampling I"
	case DirectSamplingQ:
		return "direct sampling Q"
	default:
		return "unknown"
	}
}

const (
	// MinFreqCorrection and MaxFreqCorrection are exclusive bounds in ppm.
	MinFreqCorrection = -1000
	MaxFreqCorrection = 1000

	DefaultFrequency      = 100_000_000
	DefaultGain           = 1
	DefaultChunkSizeIndex = 6
)

// ChunkSizesKB are the selectable receive chunk sizes.
var ChunkSizesKB = [...]int{1, 2, 4, 8, 16, 32, 64, 128, 256}

// MaxChunkLen is the largest receive chunk in bytes.
const MaxChunkLen = 256 * 1024

// unsent never equals a legal desired value, so a field holding it is
// always reported as changed.
const unsent = math.MinInt64

type pair struct {
	desired atomic.Int64
	sent    atomic.Int64
}

// Live is the tuning state shared by the host and the worker. Every desired
// value may be written from any goroutine at any time; the last-sent values
// are only written by the synchronizer. Each field is an independent atomic,
// so concurrent writers get last-write-wins per field.
type Live struct {
	params   [numParams]pair
	chunkIdx atomic.Int32
	// resyncReq counts full resync requests; resyncDone is the last request
	// a complete pass satisfied.
	resyncReq  atomic.Uint64
	resyncDone atomic.Uint64
}

// NewLive returns a configuration holding the defaults, with every field
// considered already sent and a full resync pending.
func NewLive() *Live {
	l := &Live{}
	l.init(Frequency, DefaultFrequency)
	l.init(SampleRate, tuner.DefaultRateIndex)
	l.init(Bandwidth, tuner.BandwidthAuto)
	l.init(Gain, DefaultGain)
	l.init(TunerAGC, 1)
	l.init(RTLAGC, 0)
	l.init(DirectSampling, int64(DirectSamplingOff))
	l.init(OffsetTuning, 0)
	l.init(FreqCorrection, 0)
	l.chunkIdx.Store(DefaultChunkSizeIndex)
	l.resyncReq.Store(1)
	return l
}

func (l *Live) init(p Param, v int64) {
	l.params[p].desired.Store(v)
	l.params[p].sent.Store(v)
}

func (l *Live) setDesired(p Param, v int64) {
	l.params[p].desired.Store(v)
}

// Desired returns the value the server should converge to.
func (l *Live) Desired(p Param) int64 { return l.params[p].desired.Load() }

// Sent returns the value last transmitted for p.
func (l *Live) Sent(p Param) int64 { return l.params[p].sent.Load() }

// MarkSent records v as transmitted for p.
func (l *Live) MarkSent(p Param, v int64) { l.params[p].sent.Store(v) }

// Invalidate forgets what was sent for p so the next pass re-sends it.
func (l *Live) Invalidate(p Param) {
	l.params[p].sent.Store(unsent)
}

// Changed reports whether p differs from what was last sent.
func (l *Live) Changed(p Param) bool {
	return l.params[p].desired.Load() != l.params[p].sent.Load()
}

// ForceResync makes the next synchronization treat every field as changed.
func (l *Live) ForceResync() { l.resyncReq.Inc() }

// ResyncForced reports whether a full resync is pending.
func (l *Live) ResyncForced() bool { return l.resyncReq.Load() != l.resyncDone.Load() }

// ResyncRequest returns the latest resync request and whether it is still
// pending. A pass hands the value back to ClearResync once it completed.
func (l *Live) ResyncRequest() (uint64, bool) {
	req := l.resyncReq.Load()
	return req, req != l.resyncDone.Load()
}

// ClearResync marks request req as satisfied. Requests made after req was
// read stay pending.
func (l *Live) ClearResync(req uint64) {
	for {
		done := l.resyncDone.Load()
		if req <= done || l.resyncDone.CAS(done, req) {
			return
		}
	}
}

// SetFrequency sets the center frequency in Hz, clamped to the 32-bit wire range.
func (l *Live) SetFrequency(hz int64) {
	if hz < 0 {
		hz = 0
	} else if hz > math.MaxUint32 {
		hz = math.MaxUint32
	}
	l.setDesired(Frequency, hz)
}

// Frequency returns the desired center frequency in Hz.
func (l *Live) Frequency() int64 { return l.Desired(Frequency) }

// SetSampleRateIndex selects an entry of the sample rate table.
func (l *Live) SetSampleRateIndex(idx int) error {
	if idx < 0 || idx >= tuner.RateCount() {
		return fmt.Errorf("sample rate index %d: %w", idx, ErrOutOfRange)
	}
	l.setDesired(SampleRate, int64(idx))
	return nil
}

// SampleRateIndex returns the desired sample rate table index.
func (l *Live) SampleRateIndex() int { return int(l.Desired(SampleRate)) }

// SampleRateHz returns the desired sample rate in Hz.
func (l *Live) SampleRateHz() int {
	r, _ := tuner.RateAt(l.SampleRateIndex())
	return r.HzInt
}

// SetBandwidthKHz sets the tuner IF bandwidth; zero or less selects automatic.
// The value is clamped against the tuner table once the tuner is known.
func (l *Live) SetBandwidthKHz(kHz int) {
	if kHz < 0 {
		kHz = tuner.BandwidthAuto
	}
	l.setDesired(Bandwidth, int64(kHz))
}

// BandwidthKHz returns the desired tuner bandwidth.
func (l *Live) BandwidthKHz() int { return int(l.Desired(Bandwidth)) }

// SetGain sets the manual tuner gain in tenth-dB. It is not checked here.
func (l *Live) SetGain(tenthDB int) { l.setDesired(Gain, int64(tenthDB)) }

// Gain returns the desired manual gain in tenth-dB.
func (l *Live) Gain() int { return int(l.Desired(Gain)) }

// SetTunerAGC switches the tuner's automatic gain control.
func (l *Live) SetTunerAGC(on bool) { l.setDesired(TunerAGC, b2i(on)) }

// TunerAGC reports whether tuner AGC is desired.
func (l *Live) TunerAGC() bool { return l.Desired(TunerAGC) != 0 }

// SetRTLAGC switches the RTL2832's digital AGC.
func (l *Live) SetRTLAGC(on bool) { l.setDesired(RTLAGC, b2i(on)) }

// RTLAGC reports whether RTL AGC is desired.
func (l *Live) RTLAGC() bool { return l.Desired(RTLAGC) != 0 }

// SetDirectSampling selects the direct sampling mode, clamped to Off..Q.
func (l *Live) SetDirectSampling(m DirectSamplingMode) {
	if m < DirectSamplingOff {
		m = DirectSamplingOff
	} else if m > DirectSamplingQ {
		m = DirectSamplingQ
	}
	l.setDesired(DirectSampling, int64(m))
}

// DirectSampling returns the desired direct sampling mode.
func (l *Live) DirectSampling() DirectSamplingMode {
	return DirectSamplingMode(l.Desired(DirectSampling))
}

// SetOffsetTuning enables offset tuning (E4000 only on the server side).
func (l *Live) SetOffsetTuning(on bool) { l.setDesired(OffsetTuning, b2i(on)) }

// OffsetTuning reports whether offset tuning is desired.
func (l *Live) OffsetTuning() bool { return l.Desired(OffsetTuning) != 0 }

// SetFreqCorrection sets the oscillator correction in ppm. Both bounds are
// exclusive.
func (l *Live) SetFreqCorrection(ppm int) error {
	if ppm <= MinFreqCorrection || ppm >= MaxFreqCorrection {
		return fmt.Errorf("frequency correction %d ppm: %w", ppm, ErrOutOfRange)
	}
	l.setDesired(FreqCorrection, int64(ppm))
	return nil
}

// FreqCorrection returns the desired correction in ppm.
func (l *Live) FreqCorrection() int { return int(l.Desired(FreqCorrection)) }

// SetChunkSizeIndex selects the receive chunk size. The worker picks it up at
// the next handshake.
func (l *Live) SetChunkSizeIndex(idx int) error {
	if idx < 0 || idx >= len(ChunkSizesKB) {
		return fmt.Errorf("buffer size index %d: %w", idx, ErrOutOfRange)
	}
	l.chunkIdx.Store(int32(idx))
	return nil
}

// ChunkSizeIndex returns the selected chunk size index.
func (l *Live) ChunkSizeIndex() int { return int(l.chunkIdx.Load()) }

// ChunkLen returns the selected chunk size in bytes.
func (l *Live) ChunkLen() int { return ChunkSizesKB[l.ChunkSizeIndex()] * 1024 }

// Snapshot is a point-in-time copy of the desired tuning values.
type Snapshot struct {
	FrequencyHz     int64              `json:"frequencyHz"`
	SampleRateIndex int                `json:"sampleRateIndex"`
	SampleRateHz    int                `json:"sampleRateHz"`
	BandwidthKHz    int                `json:"bandwidthKHz"`
	GainTenthDB     int                `json:"gainTenthDB"`
	TunerAGC        bool               `json:"tunerAGC"`
	RTLAGC          bool               `json:"rtlAGC"`
	DirectSampling  DirectSamplingMode `json:"directSampling"`
	OffsetTuning    bool               `json:"offsetTuning"`
	FreqCorrection  int                `json:"freqCorrectionPPM"`
	ChunkLen        int                `json:"chunkLen"`
}

// Snapshot copies the desired values. Fields are read one by one, so the
// result may mix values from concurrent writes.
func (l *Live) Snapshot() Snapshot {
	return Snapshot{
		FrequencyHz:     l.Frequency(),
		SampleRateIndex: l.SampleRateIndex(),
		SampleRateHz:    l.SampleRateHz(),
		BandwidthKHz:    l.BandwidthKHz(),
		GainTenthDB:     l.Gain(),
		TunerAGC:        l.TunerAGC(),
		RTLAGC:          l.RTLAGC(),
		DirectSampling:  l.DirectSampling(),
		OffsetTuning:    l.OffsetTuning(),
		FreqCorrection:  l.FreqCorrection(),
		ChunkLen:        l.ChunkLen(),
	}
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
