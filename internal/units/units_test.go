package units

import (
	"math"
	"testing"
)

func TestToBytes(t *testing.T) {
	cases := []struct {
		size float64
		unit Unit
		want float64
	}{
		{1, Bytes, 1},
		{1, KB, 1024},
		{100, MB, 104857600},
		{2.5, GB, 2.5 * 1024 * 1024 * 1024},
		{1, TB, 1 << 40},
	}
	for _, tc := range cases {
		if got := ToBytes(tc.size, tc.unit); got != tc.want {
			t.Fatalf("ToBytes(%v, %s) = %v, want %v", tc.size, tc.unit, got, tc.want)
		}
	}
	if got := ToBytes(3, Unit("PB")); got != 0 {
		t.Fatalf("unknown unit should scale to 0, got %v", got)
	}
}

func TestFromBytes(t *testing.T) {
	cases := []struct {
		bytes float64
		want  Size
	}{
		{0, Size{0, Bytes}},
		{512, Size{512, Bytes}},
		{1024, Size{1, KB}},
		{1536, Size{1.5, KB}},
		{104857600, Size{100, MB}},
		{123456789, Size{117.74, MB}},
		{5 * (1 << 50), Size{5120, TB}},
	}
	for _, tc := range cases {
		if got := FromBytes(tc.bytes); got != tc.want {
			t.Fatalf("FromBytes(%v) = %+v, want %+v", tc.bytes, got, tc.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, b := range []float64{0, 700, 104857600, 123456789, 60e9, 7.3e14, 9.9e15} {
		size := FromBytes(b)
		back := ToBytes(size.Value, size.Unit)
		if b == 0 {
			if back != 0 {
				t.Fatalf("round trip of 0 = %v", back)
			}
			continue
		}
		if rel := math.Abs(back-b) / b; rel > 0.0001 {
			t.Fatalf("round trip of %v = %v (rel err %.6f)", b, back, rel)
		}
	}
}

func TestParseUnit(t *testing.T) {
	for in, want := range map[string]Unit{"mb": MB, "GiB": GB, "bytes": Bytes, "KB": KB, "t": TB} {
		got, err := ParseUnit(in)
		if err != nil {
			t.Fatalf("ParseUnit(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseUnit(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseUnit("furlong"); err == nil {
		t.Fatalf("expected error for unknown unit")
	}
}

func TestMBps(t *testing.T) {
	if got := MBps(10*1024*1024, 2); got != 5 {
		t.Fatalf("MBps = %v, want 5", got)
	}
	if got := MBps(1024, 0); got != 0 {
		t.Fatalf("MBps with zero elapsed = %v, want 0", got)
	}
}

func TestFormatters(t *testing.T) {
	if got := FormatBytes(104857600); got != "100.00 MB" {
		t.Fatalf("FormatBytes = %q", got)
	}
	if got := FormatMbps(8); got != "8.00 Mbps" {
		t.Fatalf("FormatMbps = %q", got)
	}
	if got := FormatSeconds(0.5); got != "500.00ms" {
		t.Fatalf("FormatSeconds(0.5) = %q", got)
	}
	if got := FormatSeconds(84.386); got != "84.4s" {
		t.Fatalf("FormatSeconds(84.386) = %q", got)
	}
	if got := FormatSeconds(3725); got != "1h02m05s" {
		t.Fatalf("FormatSeconds(3725) = %q", got)
	}
}
