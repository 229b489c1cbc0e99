package febos

import "testing"

func TestNormalizeValue(t *testing.T) {
	cases := []struct {
		code string
		raw  int64
		want float64
	}{
		{"S04", 205, 20.5},
		{"S05", 212, 21.2},
		{"R8684", 250, 2.5},
		{"R8002", 1500, 1.5},
		{"R8002", 64036, -1.5}, // two's complement, exporting
		{"R8105", 65533, -3},   // two's complement, unscaled
		{"R8208", 1500, 1.5},   // average power, thousandths
		{"R9120", 2, 120},      // uptime hours to minutes
		{"R9127", 3, 30},       // tens of watts, unsigned
		{"S06", 48, 48},        // unknown code passes through
	}
	for _, tc := range cases {
		if got := NormalizeValue(tc.code, tc.raw); got != tc.want {
			t.Errorf("NormalizeValue(%s, %d) = %v, want %v", tc.code, tc.raw, got, tc.want)
		}
	}
}

func TestNormalizeFloat(t *testing.T) {
	cases := []struct {
		code string
		raw  float64
		want float64
	}{
		{"S06", 21.5, 21.5},     // fractional wire value survives
		{"S04", 205.5, 20.55},   // fraction scales with the divisor
		{"R8002", 64036, -1.5},  // whole values still reinterpret as signed
		{"R8002", 1500.5, 1.5005},
	}
	for _, tc := range cases {
		if got := NormalizeFloat(tc.code, tc.raw); got != tc.want {
			t.Errorf("NormalizeFloat(%s, %v) = %v, want %v", tc.code, tc.raw, got, tc.want)
		}
	}
}

func TestToRawValue(t *testing.T) {
	cases := []struct {
		code  string
		value float64
		want  int64
	}{
		{"S04", 20.5, 205},
		{"S04", 20.44, 204}, // rounds to nearest tenth
		{"S04", 20.45, 205},
		{"R8684", 2.5, 250},
		{"R9120", 120, 2},
		{"S06", 48, 48},
	}
	for _, tc := range cases {
		if got := ToRawValue(tc.code, tc.value); got != tc.want {
			t.Errorf("ToRawValue(%s, %v) = %d, want %d", tc.code, tc.value, got, tc.want)
		}
	}
}

func TestNormalizeRoundTrip(t *testing.T) {
	for raw := int64(50); raw <= 350; raw++ {
		if got := ToRawValue("S04", NormalizeValue("S04", raw)); got != raw {
			t.Fatalf("round trip S04 %d -> %d", raw, got)
		}
	}
}
