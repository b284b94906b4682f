// Package tuner holds the static capability data of the tuner chips found
// behind rtl_tcp servers: gain steps, IF bandwidth steps and the streaming
// sample rates offered to the host.
package tuner

import (
	"fmt"
	"strings"
)

// Tuner is the tuner type reported in the rtl_tcp handshake.
type Tuner uint32

const (
	Unknown Tuner = iota
	E4000
	FC0012
	FC0013
	FC2580
	R820T
	R828D
)

var tunerNames = [...]string{"None", "E4000", "FC0012", "FC0013", "FC2580", "R820T", "R828D"}

func (t Tuner) String() string {
	if int(t) < len(tunerNames) {
		return tunerNames[t]
	}
	return fmt.Sprintf("unknown(%d)", uint32(t))
}

// Parse resolves a tuner name such as "r820t", case-insensitively.
func Parse(name string) (Tuner, error) {
	for i, n := range tunerNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Tuner(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown tuner %q", name)
}

// Gains in tenths of dB (197 => 19.7 dB), ascending.
var (
	e4000Gains  = []int{-10, 15, 40, 65, 90, 115, 140, 165, 190, 215, 240, 290, 340, 420}
	fc0012Gains = []int{-99, -40, 71, 179, 192}
	fc0013Gains = []int{-99, -73, -65, -63, -60, -58, -54, 58, 61, 63, 65, 67, 68, 70, 71, 179, 181, 182, 184, 186, 188, 191, 197}
	r820tGains  = []int{0, 9, 14, 27, 37, 77, 87, 125, 144, 157, 166, 197, 207, 229, 254, 280, 297, 328, 338, 364, 372, 386, 402, 421, 434, 439, 445, 480, 496}
)

// IF bandwidths in kHz, ascending. "Automatic" is not part of these tables;
// it is represented by BandwidthAuto.
var (
	e4000Bandwidths = []int{1000, 1200, 1800, 1900, 2150, 2200, 2300, 2400, 2500, 2600, 2700, 2800, 2900, 3000, 3100, 3200, 3300, 3400, 5000, 10000}
	r820tBandwidths = []int{350, 450, 550, 700, 900, 1200, 1450, 1550, 1600, 1700, 1800, 1900, 1950, 2050, 2080, 2180, 2280, 2330, 2430, 6000, 7000, 8000}
)

// BandwidthAuto lets the tuner driver pick its own IF bandwidth.
const BandwidthAuto = 0

// Capabilities lists what a tuner model can be told to do.
type Capabilities struct {
	Tuner      Tuner
	Gains      []int // tenth-dB, empty when the gain is not controllable
	Bandwidths []int // kHz, empty when only BandwidthAuto is legal
}

// HasGainControl reports whether manual gain steps exist.
func (c Capabilities) HasGainControl() bool { return len(c.Gains) > 0 }

// HasBandwidthControl reports whether the IF bandwidth can be selected.
func (c Capabilities) HasBandwidthControl() bool { return len(c.Bandwidths) > 0 }

// Lookup returns the capabilities of t. Unknown tuners get empty tables.
// The returned slices are shared and must not be modified.
func Lookup(t Tuner) Capabilities {
	c := Capabilities{Tuner: t}
	switch t {
	case E4000:
		c.Gains, c.Bandwidths = e4000Gains, e4000Bandwidths
	case FC0012:
		c.Gains = fc0012Gains
	case FC0013:
		c.Gains = fc0013Gains
	case R820T:
		c.Gains, c.Bandwidths = r820tGains, r820tBandwidths
	}
	return c
}

// NearestGain clamps gain (tenth-dB) to the closest legal step. Tuners
// without gain control return gain unchanged.
func (c Capabilities) NearestGain(gain int) int {
	if !c.HasGainControl() {
		return gain
	}
	return c.Gains[NearestIndex(c.Gains, gain)]
}

// GainIndex returns the position of gain in the table, or -1.
func (c Capabilities) GainIndex(gain int) int {
	for i, g := range c.Gains {
		if g == gain {
			return i
		}
	}
	return -1
}

// NearestBandwidth clamps kHz to the closest legal step. Non-positive
// requests and tuners without bandwidth control yield BandwidthAuto.
func (c Capabilities) NearestBandwidth(kHz int) int {
	if kHz <= 0 || !c.HasBandwidthControl() {
		return BandwidthAuto
	}
	return c.Bandwidths[NearestIndex(c.Bandwidths, kHz)]
}

// NearestIndex returns the index of the entry of the ascending table closest
// to target. On equal distance the lower index wins. Targets below the first
// entry clamp to 0, targets at or above the last entry clamp to the last
// index. An empty table yields 0.
func NearestIndex(table []int, target int) int {
	n := len(table)
	if n == 0 || target <= table[0] {
		return 0
	}
	if target >= table[n-1] {
		return n - 1
	}
	best, bestDist := 0, abs(target-table[0])
	for i := 1; i < n; i++ {
		if d := abs(target - table[i]); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
