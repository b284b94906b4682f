package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Setting is one row of the host-facing settings table.
type Setting struct {
	Index       int    `json:"index"`
	Key         string `json:"key"`
	Description string `json:"description"`
	Value       string `json:"value"`
}

type settingDef struct {
	key         string
	description string
	get         func(*Settings) string
	set         func(*Settings, string) error
}

// The order is part of the host contract; hosts address settings by index.
var settingDefs = []settingDef{
	{
		key:         "rtl_tcp.address",
		description: "RTL_TCP IP-Address",
		get:         func(s *Settings) string { return s.Session.Address() },
		set:         func(s *Settings, v string) error { return s.Session.SetAddress(v) },
	},
	{
		key:         "rtl_tcp.port",
		description: "RTL_TCP Portnumber",
		get:         func(s *Settings) string { return strconv.Itoa(s.Session.Port()) },
		set: func(s *Settings, v string) error {
			n, err := parseInt(v)
			if err != nil {
				return err
			}
			return s.Session.SetPort(n)
		},
	},
	{
		key:         "connection.auto_reconnect",
		description: "Automatic_ReConnect",
		get:         func(s *Settings) string { return formatBool(s.Session.AutoReconnect()) },
		set:         boolSetter(func(s *Settings, b bool) { s.Session.SetAutoReconnect(b) }),
	},
	{
		key:         "connection.persistent",
		description: "Persistent_Connection",
		get:         func(s *Settings) string { return formatBool(s.Session.Persistent()) },
		set:         boolSetter(func(s *Settings, b bool) { s.Session.SetPersistent(b) }),
	},
	{
		key:         "tuning.sample_rate_index",
		description: "SampleRateIdx",
		get:         func(s *Settings) string { return strconv.Itoa(s.Live.SampleRateIndex()) },
		set: func(s *Settings, v string) error {
			n, err := parseInt(v)
			if err != nil {
				return err
			}
			return s.Live.SetSampleRateIndex(n)
		},
	},
	{
		key:         "tuning.bandwidth_khz",
		description: "TunerBandwidth in kHz (only few tuner models) - 0 for automatic",
		get:         func(s *Settings) string { return strconv.Itoa(s.Live.BandwidthKHz()) },
		set: func(s *Settings, v string) error {
			n, err := parseInt(v)
			if err != nil {
				return err
			}
			s.Live.SetBandwidthKHz(n)
			return nil
		},
	},
	{
		key:         "tuning.tuner_agc",
		description: "Tuner_AGC",
		get:         func(s *Settings) string { return formatBool(s.Live.TunerAGC()) },
		set:         boolSetter(func(s *Settings, b bool) { s.Live.SetTunerAGC(b) }),
	},
	{
		key:         "tuning.rtl_agc",
		description: "RTL_AGC",
		get:         func(s *Settings) string { return formatBool(s.Live.RTLAGC()) },
		set:         boolSetter(func(s *Settings, b bool) { s.Live.SetRTLAGC(b) }),
	},
	{
		key:         "tuning.freq_correction_ppm",
		description: "Frequency_Correction",
		get:         func(s *Settings) string { return strconv.Itoa(s.Live.FreqCorrection()) },
		set: func(s *Settings, v string) error {
			n, err := parseInt(v)
			if err != nil {
				return err
			}
			return s.Live.SetFreqCorrection(n)
		},
	},
	{
		key:         "tuning.gain",
		description: "Tuner_Gain",
		get:         func(s *Settings) string { return strconv.Itoa(s.Live.Gain()) },
		set: func(s *Settings, v string) error {
			n, err := parseInt(v)
			if err != nil {
				return err
			}
			s.Live.SetGain(n)
			return nil
		},
	},
	{
		key:         "stream.buffer_size_index",
		description: "Buffer_Size",
		get:         func(s *Settings) string { return strconv.Itoa(s.Live.ChunkSizeIndex()) },
		set: func(s *Settings, v string) error {
			n, err := parseInt(v)
			if err != nil {
				return err
			}
			return s.Live.SetChunkSizeIndex(n)
		},
	},
	{
		key:         "tuning.offset_tuning",
		description: "Offset_Tuning",
		get:         func(s *Settings) string { return formatBool(s.Live.OffsetTuning()) },
		set:         boolSetter(func(s *Settings, b bool) { s.Live.SetOffsetTuning(b) }),
	},
	{
		key:         "tuning.direct_sampling",
		description: "Direct_Sampling",
		get:         func(s *Settings) string { return strconv.Itoa(int(s.Live.DirectSampling())) },
		set: func(s *Settings, v string) error {
			n, err := parseInt(v)
			if err != nil {
				return err
			}
			s.Live.SetDirectSampling(DirectSamplingMode(n))
			return nil
		},
	},
	{
		key:         "connection.non_blocking",
		description: "Use Asynchronous I/O on Socket connection",
		get:         func(s *Settings) string { return formatBool(s.Session.NonBlocking()) },
		set:         boolSetter(func(s *Settings, b bool) { s.Session.SetNonBlocking(b) }),
	},
	{
		key:         "connection.poll_sleep_ms",
		description: "number of Milliseconds to Sleep before trying to receive new data",
		get:         func(s *Settings) string { return strconv.Itoa(s.Session.PollSleepMillis()) },
		set: func(s *Settings, v string) error {
			n, err := parseInt(v)
			if err != nil {
				return err
			}
			s.Session.SetPollSleepMillis(n)
			return nil
		},
	},
}

// Settings exposes Live and Session as an indexed key/value table.
type Settings struct {
	Live    *Live
	Session *Session
}

// NewSettings binds the table to live and session.
func NewSettings(live *Live, session *Session) *Settings {
	return &Settings{Live: live, Session: session}
}

// Count returns the number of settings.
func (s *Settings) Count() int { return len(settingDefs) }

// Get returns the setting at idx.
func (s *Settings) Get(idx int) (Setting, error) {
	if idx < 0 || idx >= len(settingDefs) {
		return Setting{}, fmt.Errorf("setting %d: %w", idx, ErrUnknownSetting)
	}
	d := settingDefs[idx]
	return Setting{Index: idx, Key: d.key, Description: d.description, Value: d.get(s)}, nil
}

// Set parses value and applies it to the setting at idx. Rejected values
// leave the current value untouched.
func (s *Settings) Set(idx int, value string) error {
	if idx < 0 || idx >= len(settingDefs) {
		return fmt.Errorf("setting %d: %w", idx, ErrUnknownSetting)
	}
	if err := settingDefs[idx].set(s, value); err != nil {
		return fmt.Errorf("%s: %w", settingDefs[idx].key, err)
	}
	return nil
}

// All returns the whole table.
func (s *Settings) All() []Setting {
	out := make([]Setting, 0, len(settingDefs))
	for i := range settingDefs {
		st, _ := s.Get(i)
		out = append(out, st)
	}
	return out
}

// Index returns the index of the setting with the given key.
func (s *Settings) Index(key string) (int, bool) {
	for i, d := range settingDefs {
		if d.key == key {
			return i, true
		}
	}
	return -1, false
}

func boolSetter(apply func(*Settings, bool)) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		apply(s, b)
		return nil
	}
}

func parseInt(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("not an integer %q: %w", v, ErrOutOfRange)
	}
	return n, nil
}

// parseBool accepts integers (non-zero is true) and the strconv spellings.
func parseBool(v string) (bool, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return n != 0, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("not a boolean %q: %w", v, ErrOutOfRange)
	}
	return b, nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
