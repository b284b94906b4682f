package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rjboer/GoRTLTCP/internal/config"
)

type flagKind int

const (
	stringFlag flagKind = iota
	intFlag
	boolFlag
)

// settingFlags maps command-line flags onto settings table keys. A flag
// only overrides the stored value when it is given explicitly.
var settingFlags = []struct {
	key  string
	name string
	kind flagKind
}{
	{"rtl_tcp.address", "address", stringFlag},
	{"rtl_tcp.port", "port", intFlag},
	{"connection.auto_reconnect", "auto-reconnect", boolFlag},
	{"connection.persistent", "persistent", boolFlag},
	{"tuning.sample_rate_index", "rate-index", intFlag},
	{"tuning.bandwidth_khz", "bandwidth", intFlag},
	{"tuning.tuner_agc", "tuner-agc", boolFlag},
	{"tuning.rtl_agc", "rtl-agc", boolFlag},
	{"tuning.freq_correction_ppm", "ppm", intFlag},
	{"tuning.gain", "gain", intFlag},
	{"stream.buffer_size_index", "buffer-index", intFlag},
	{"tuning.offset_tuning", "offset-tuning", boolFlag},
	{"tuning.direct_sampling", "direct-sampling", intFlag},
	{"connection.non_blocking", "non-blocking", boolFlag},
	{"connection.poll_sleep_ms", "poll-sleep", intFlag},
}

// addSettingFlags registers one flag per setting, defaulting to the built-in
// value so --help shows what an empty settings file means.
func addSettingFlags(cmd *cobra.Command) {
	defaults := config.NewSettings(config.NewLive(), config.NewSession())
	flags := cmd.Flags()
	for _, f := range settingFlags {
		var value, usage string
		if idx, ok := defaults.Index(f.key); ok {
			if s, err := defaults.Get(idx); err == nil {
				value, usage = s.Value, s.Description
			}
		}
		switch f.kind {
		case intFlag:
			n, _ := strconv.Atoi(value)
			flags.Int(f.name, n, usage)
		case boolFlag:
			b, _ := strconv.ParseBool(value)
			flags.Bool(f.name, b, usage)
		default:
			flags.String(f.name, value, usage)
		}
	}
}

// bindSettingFlags hands the flags to the store's viper instance so Load
// picks up explicit flags ahead of the file and the environment.
func bindSettingFlags(cmd *cobra.Command, store *config.Store) error {
	for _, f := range settingFlags {
		flag := cmd.Flags().Lookup(f.name)
		if flag == nil {
			continue
		}
		if err := store.Viper().BindPFlag(f.key, flag); err != nil {
			return fmt.Errorf("bind --%s: %w", f.name, err)
		}
	}
	return nil
}
