// Package host is the control surface an SDR application drives: open,
// start and stop streaming, tune, pick rates and gains, and read or write
// the indexed settings. Samples and change notifications reach the
// application through a single callback.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rjboer/GoRTLTCP/internal/app"
	"github.com/rjboer/GoRTLTCP/internal/config"
	"github.com/rjboer/GoRTLTCP/internal/logging"
	"github.com/rjboer/GoRTLTCP/internal/pipeline"
	"github.com/rjboer/GoRTLTCP/internal/telemetry"
	"github.com/rjboer/GoRTLTCP/internal/tuner"
)

// Event tags a callback invocation.
type Event int

const (
	// EventData carries one chunk of samples.
	EventData Event = 0
	// EventSampleRateChanged asks the application to re-read the rate.
	EventSampleRateChanged Event = 100
	// EventLOChanged asks the application to re-read the LO frequency.
	EventLOChanged Event = 101
	// EventAttenuationChanged asks the application to re-read the gain.
	EventAttenuationChanged Event = 125
)

// Callback receives samples (EventData, count = I/Q samples in blk) and
// change notifications (count = -1, blk = nil). Data callbacks run on the
// streaming goroutine and blk is only valid until the call returns.
type Callback func(count int, ev Event, param float32, blk *pipeline.Block)

// AGC modes in the order hosts list them.
var agcModes = []string{"None", "Tuner AGC", "RTL AGC", "RTL+Tuner AGC"}

var (
	// ErrIndex is returned for a rate, attenuator or AGC index outside its list.
	ErrIndex = errors.New("index out of range")
)

// Options wires optional collaborators.
type Options struct {
	// Store persists the settings table on Close and is loaded by Open.
	Store    *config.Store
	Reporter telemetry.Reporter
	Logger   logging.Logger
	Worker   app.Config
}

// Host owns the configuration and the streaming worker for one server.
type Host struct {
	Live     *config.Live
	Session  *config.Session
	Settings *config.Settings

	cb       Callback
	store    *config.Store
	streamer *app.Streamer
	logger   logging.Logger

	mu      sync.Mutex
	ctx     context.Context
	opened  bool
	started bool
}

// New builds a host with default settings. The sample format defaults to
// signed 16-bit until EnableU8 is called.
func New(cb Callback, opts Options) *Host {
	live := config.NewLive()
	session := config.NewSession()
	h := &Host{
		Live:     live,
		Session:  session,
		Settings: config.NewSettings(live, session),
		cb:       cb,
		store:    opts.Store,
		logger:   logging.OrDefault(opts.Logger).With(logging.F("subsystem", "host")),
	}
	h.streamer = app.NewStreamer(live, session, h.deliver, opts.Reporter, opts.Logger, opts.Worker)
	h.streamer.SetConverter(pipeline.U8ToS16)
	return h
}

// Streamer exposes the worker for status queries.
func (h *Host) Streamer() *app.Streamer { return h.streamer }

func (h *Host) deliver(b pipeline.Block) {
	if h.cb != nil {
		h.cb(b.Samples, EventData, 0, &b)
	}
}

func (h *Host) notify(ev Event) {
	if h.cb != nil {
		h.cb(-1, ev, 0, nil)
	}
}

// EnableU8 declares that the application accepts unsigned 8-bit samples,
// which are then passed through unconverted. It applies from the next
// connection.
func (h *Host) EnableU8() {
	h.streamer.SetConverter(pipeline.PassThrough)
}

// Format is the sample format the application will receive.
func (h *Host) Format() pipeline.Converter { return h.streamer.Converter() }

// Open loads stored settings and, for a persistent connection, starts the
// worker without delivering samples.
func (h *Host) Open(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.store != nil {
		if err := h.store.Load(h.Settings); err != nil {
			h.logger.Warn("stored settings partially applied", logging.F("path", h.store.Path()), logging.Err(err))
		}
	}
	h.ctx = ctx
	h.opened = true
	if h.Session.Persistent() {
		h.streamer.SetDelivering(false)
		if err := h.streamer.Start(ctx); err != nil {
			return fmt.Errorf("open: %w", err)
		}
	}
	return nil
}

// Start tunes to freqHz and begins delivering samples. It returns the number
// of I/Q samples per data callback.
func (h *Host) Start(ctx context.Context, freqHz int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx == nil {
		h.ctx = ctx
	}
	chunk := h.Live.ChunkLen()
	if active := h.streamer.ActiveChunkLen(); h.streamer.Running() && active != 0 && active != chunk {
		// the chunk size only changes on a new connection
		h.streamer.Stop()
	}
	h.Live.SetFrequency(freqHz)
	h.Live.ForceResync()
	h.streamer.SetDelivering(true)
	if err := h.streamer.Start(h.ctx); err != nil {
		h.streamer.SetDelivering(false)
		return 0, fmt.Errorf("start: %w", err)
	}
	h.started = true
	h.logger.Info("streaming started", logging.F("frequency", freqHz), logging.F("chunk", chunk),
		logging.F("format", h.streamer.Converter()))
	return chunk / 2, nil
}

// Stop ends sample delivery. The connection stays up when it is persistent.
func (h *Host) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = false
	h.streamer.SetDelivering(false)
	if !h.Session.Persistent() {
		h.streamer.Stop()
	}
}

// Close stops the worker, frees its buffers and saves the settings.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = false
	h.opened = false
	h.streamer.SetDelivering(false)
	h.streamer.Release()
	if h.store != nil {
		if err := h.store.Save(h.Settings); err != nil {
			return fmt.Errorf("close: %w", err)
		}
	}
	return nil
}

// SetPersistent toggles keeping the connection while not streaming. Turning
// it on after Open connects right away; turning it off while stopped
// disconnects.
func (h *Host) SetPersistent(on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Session.SetPersistent(on)
	switch {
	case on && h.opened && !h.streamer.Running():
		return h.streamer.Start(h.ctx)
	case !on && !h.started:
		h.streamer.Stop()
	}
	return nil
}

// SetLO tunes the center frequency.
func (h *Host) SetLO(hz int64) { h.Live.SetFrequency(hz) }

// LO returns the desired center frequency.
func (h *Host) LO() int64 { return h.Live.Frequency() }

// SampleRateHz returns the selected rate.
func (h *Host) SampleRateHz() int { return h.Live.SampleRateHz() }

// SampleRates lists the selectable rates.
func (h *Host) SampleRates() []tuner.Rate { return tuner.Rates() }

// SampleRateAt returns the rate of entry idx.
func (h *Host) SampleRateAt(idx int) (float64, error) {
	r, ok := tuner.RateAt(idx)
	if !ok {
		return 0, fmt.Errorf("sample rate %d: %w", idx, ErrIndex)
	}
	return r.Hz, nil
}

// SampleRateIndex returns the selected rate table index.
func (h *Host) SampleRateIndex() int { return h.Live.SampleRateIndex() }

// SetSampleRateIndex selects a rate and notifies the application.
func (h *Host) SetSampleRateIndex(idx int) error {
	if err := h.Live.SetSampleRateIndex(idx); err != nil {
		return fmt.Errorf("sample rate %d: %w", idx, ErrIndex)
	}
	h.notify(EventSampleRateChanged)
	return nil
}

func (h *Host) capabilities() tuner.Capabilities {
	info, _ := h.streamer.DeviceInfo()
	return info.Capabilities()
}

// Attenuators lists the tuner's gain steps in dB. It is empty until a
// handshake identified the tuner.
func (h *Host) Attenuators() []float32 {
	gains := h.capabilities().Gains
	out := make([]float32, len(gains))
	for i, g := range gains {
		out[i] = float32(g) / 10
	}
	return out
}

// AttenuatorIndex returns the position of the current gain, or -1.
func (h *Host) AttenuatorIndex() int {
	return h.capabilities().GainIndex(h.Live.Gain())
}

// SetAttenuator selects gain step idx.
func (h *Host) SetAttenuator(idx int) error {
	gains := h.capabilities().Gains
	if idx < 0 || idx >= len(gains) {
		return fmt.Errorf("attenuator %d: %w", idx, ErrIndex)
	}
	h.Live.SetGain(gains[idx])
	return nil
}

// AGCModes lists the selectable AGC combinations.
func (h *Host) AGCModes() []string { return append([]string(nil), agcModes...) }

// AGCMode returns the index of the active AGC combination.
func (h *Host) AGCMode() int {
	mode := 0
	if h.Live.TunerAGC() {
		mode |= 1
	}
	if h.Live.RTLAGC() {
		mode |= 2
	}
	return mode
}

// SetAGCMode applies AGC combination idx.
func (h *Host) SetAGCMode(idx int) error {
	if idx < 0 || idx >= len(agcModes) {
		return fmt.Errorf("agc mode %d: %w", idx, ErrIndex)
	}
	h.Live.SetTunerAGC(idx&1 != 0)
	h.Live.SetRTLAGC(idx&2 != 0)
	return nil
}

// Status returns the worker's status snapshot.
func (h *Host) Status() telemetry.Status { return h.streamer.Status() }
