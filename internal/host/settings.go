package host

import "github.com/rjboer/GoRTLTCP/internal/config"

// settingEvents maps settings whose change the application must hear about.
var settingEvents = map[string]Event{
	"tuning.sample_rate_index":   EventSampleRateChanged,
	"stream.buffer_size_index":   EventSampleRateChanged,
	"tuning.freq_correction_ppm": EventLOChanged,
	"tuning.direct_sampling":     EventLOChanged,
	"tuning.gain":                EventAttenuationChanged,
}

// SettingCount returns the number of indexed settings.
func (h *Host) SettingCount() int { return h.Settings.Count() }

// Get returns setting idx.
func (h *Host) Get(idx int) (config.Setting, error) { return h.Settings.Get(idx) }

// All returns the settings table.
func (h *Host) All() []config.Setting { return h.Settings.All() }

// Index resolves a setting key.
func (h *Host) Index(key string) (int, bool) { return h.Settings.Index(key) }

// Set writes setting idx. Changes that alter the rate, the LO or the gain
// are announced through the callback. Persistence changes are applied to the
// worker immediately.
func (h *Host) Set(idx int, value string) error {
	before, err := h.Settings.Get(idx)
	if err != nil {
		return err
	}
	if err := h.Settings.Set(idx, value); err != nil {
		return err
	}
	after, _ := h.Settings.Get(idx)
	if before.Value == after.Value {
		return nil
	}
	if after.Key == "connection.persistent" {
		return h.SetPersistent(h.Session.Persistent())
	}
	if ev, ok := settingEvents[after.Key]; ok {
		h.notify(ev)
	}
	return nil
}
