package tuner

// Rate is one entry of the streaming sample rate table.
type Rate struct {
	Hz    float64
	HzInt int
	Label string
}

// Rates are multiples of 176.4 kHz and 192 kHz so hosts can decimate down to
// 44.1 or 48 kHz audio. Ascending by HzInt.
var rates = []Rate{
	{960000, 960000, "0.96 Msps (48.0 kHz)"},
	{1058400, 1058400, "1.06 Msps (44.1 kHz)"},
	{1152000, 1152000, "1.15 Msps (48.0 kHz)"},
	{1234800, 1234800, "1.23 Msps (44.1 kHz)"},
	{1344000, 1344000, "1.34 Msps (48.0 kHz)"},
	{1411200, 1411200, "1.41 Msps (44.1 kHz)"},
	{1536000, 1536000, "1.54 Msps (48.0 kHz)"},
	{1764000, 1764000, "1.76 Msps (44.1 kHz)"},
	{1920000, 1920000, "1.92 Msps (48.0 kHz)"},
	{2116800, 2116800, "2.12 Msps (44.1 kHz)"},
	{2304000, 2304000, "2.30 Msps (48.0 kHz)"},
	{2469600, 2469600, "2.47 Msps (44.1 kHz)"},
	{2646000, 2646000, "2.65 Msps (44.1 kHz)"},
	{2688000, 2688000, "2.69 Msps (48.0 kHz)"},
	{2822400, 2822400, "2.82 Msps (44.1 kHz)"},
	{2880000, 2880000, "2.88 Msps (48.0 kHz)"},
	{3200000, 3200000, "3.2 Msps"},
}

// DefaultRateIndex selects 1.344 Msps.
const DefaultRateIndex = 4

// Rates returns a copy of the sample rate table.
func Rates() []Rate {
	out := make([]Rate, len(rates))
	copy(out, rates)
	return out
}

// RateCount is the number of selectable sample rates.
func RateCount() int { return len(rates) }

// RateAt returns the rate at idx and whether idx is valid.
func RateAt(idx int) (Rate, bool) {
	if idx < 0 || idx >= len(rates) {
		return Rate{}, false
	}
	return rates[idx], true
}

// NearestRateIndex returns the index of the table rate closest to hz.
func NearestRateIndex(hz int) int {
	values := make([]int, len(rates))
	for i, r := range rates {
		values[i] = r.HzInt
	}
	return NearestIndex(values, hz)
}
