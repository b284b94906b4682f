package tuner

import (
	"sort"
	"testing"
)

func TestNearestIndexIsMinimal(t *testing.T) {
	tables := [][]int{e4000Gains, fc0012Gains, fc0013Gains, r820tGains, e4000Bandwidths, r820tBandwidths}
	for _, table := range tables {
		for v := table[0] - 50; v <= table[len(table)-1]+50; v++ {
			i := NearestIndex(table, v)
			best := abs(table[i] - v)
			for j := range table {
				if abs(table[j]-v) < best {
					t.Fatalf("table %v target %d: index %d (dist %d) beaten by %d", table, v, i, best, j)
				}
			}
		}
	}
}

func TestNearestIndexClamps(t *testing.T) {
	table := []int{10, 20, 30}
	cases := []struct {
		target, want int
	}{
		{-100, 0},
		{10, 0},
		{14, 0},
		{15, 0}, // tie goes to the lower index
		{16, 1},
		{30, 2},
		{1000, 2},
	}
	for _, c := range cases {
		if got := NearestIndex(table, c.target); got != c.want {
			t.Fatalf("target %d: expected %d, got %d", c.target, c.want, got)
		}
	}
	if got := NearestIndex(nil, 42); got != 0 {
		t.Fatalf("expected 0 for empty table, got %d", got)
	}
}

func TestTablesAscending(t *testing.T) {
	for _, tn := range []Tuner{E4000, FC0012, FC0013, R820T} {
		c := Lookup(tn)
		if !sort.IntsAreSorted(c.Gains) || !sort.IntsAreSorted(c.Bandwidths) {
			t.Fatalf("%s tables not ascending", tn)
		}
	}
	prev := 0
	for _, r := range Rates() {
		if r.HzInt <= prev {
			t.Fatalf("rate table not ascending at %s", r.Label)
		}
		if float64(r.HzInt) != r.Hz {
			t.Fatalf("rate %s: float and int disagree", r.Label)
		}
		prev = r.HzInt
	}
}

func TestCapabilitiesNearest(t *testing.T) {
	r820 := Lookup(R820T)
	if got := r820.NearestGain(200); got != 197 {
		t.Fatalf("expected 197, got %d", got)
	}
	if got := r820.NearestBandwidth(0); got != BandwidthAuto {
		t.Fatalf("expected auto bandwidth, got %d", got)
	}
	if got := r820.NearestBandwidth(100); got != 350 {
		t.Fatalf("expected low clamp 350, got %d", got)
	}
	if got := r820.NearestBandwidth(99999); got != 8000 {
		t.Fatalf("expected high clamp 8000, got %d", got)
	}

	fc2580 := Lookup(FC2580)
	if fc2580.HasGainControl() || fc2580.HasBandwidthControl() {
		t.Fatalf("FC2580 should expose no tables")
	}
	if got := fc2580.NearestGain(123); got != 123 {
		t.Fatalf("expected gain passthrough for uncontrolled tuner, got %d", got)
	}
	if got := fc2580.NearestBandwidth(2000); got != BandwidthAuto {
		t.Fatalf("expected auto bandwidth, got %d", got)
	}
}

func TestRateLookup(t *testing.T) {
	if _, ok := RateAt(RateCount()); ok {
		t.Fatalf("expected out of range index to fail")
	}
	r, ok := RateAt(DefaultRateIndex)
	if !ok || r.HzInt != 1344000 {
		t.Fatalf("unexpected default rate %+v", r)
	}
	if idx := NearestRateIndex(2400000); rates[idx].HzInt != 2469600 {
		t.Fatalf("expected 2.4696 Msps, got %d", rates[idx].HzInt)
	}
	if idx := NearestRateIndex(0); idx != 0 {
		t.Fatalf("expected low clamp, got %d", idx)
	}
}

func TestTunerString(t *testing.T) {
	if R820T.String() != "R820T" || Unknown.String() != "None" {
		t.Fatalf("unexpected names %s %s", R820T, Unknown)
	}
	if Tuner(99).String() != "unknown(99)" {
		t.Fatalf("unexpected name %s", Tuner(99))
	}
}

func TestParse(t *testing.T) {
	if tn, err := Parse(" r820t "); err != nil || tn != R820T {
		t.Fatalf("expected R820T, got %v (%v)", tn, err)
	}
	if _, err := Parse("xyz"); err == nil {
		t.Fatalf("expected error for unknown tuner")
	}
}
