package market

import (
	"encoding/json"
	"math"
	"testing"
)

func TestFloatFromAny(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{in: 0.5, want: 0.5, ok: true},
		{in: " 0.25 ", want: 0.25, ok: true},
		{in: json.Number("12"), want: 12, ok: true},
		{in: 7, want: 7, ok: true},
		{in: "abc", ok: false},
		{in: nil, ok: false},
	}
	for _, tc := range cases {
		got, ok := floatFromAny(tc.in)
		if ok != tc.ok {
			t.Fatalf("floatFromAny(%v): expected ok=%v, got %v", tc.in, tc.ok, ok)
		}
		if ok && !closeEnough(got, tc.want) {
			t.Fatalf("floatFromAny(%v): expected %v, got %v", tc.in, tc.want, got)
		}
	}
}

func TestFloatFromKeysFallsBack(t *testing.T) {
	m := map[string]any{"p": "0.41"}
	got, ok := floatFromKeys(m, "price", "p")
	if !ok || !closeEnough(got, 0.41) {
		t.Fatalf("expected 0.41 from fallback key, got %v (ok=%v)", got, ok)
	}
	if _, ok := floatFromKeys(m, "size", "s"); ok {
		t.Fatalf("expected missing keys to report not ok")
	}
}

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
