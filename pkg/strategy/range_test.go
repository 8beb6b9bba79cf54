package strategy

import "testing"

func TestGridLevelCount_ClampsToConfiguredBounds(t *testing.T) {
	cases := []struct {
		name                 string
		high, low, atr, mult float64
		min, max, want       int
	}{
		{"within range", 105, 99, 2, 0.6, 3, 10, 5},
		{"below min clamps up", 101, 99, 10, 0.6, 3, 10, 3},
		{"above max clamps down", 200, 0, 0.1, 0.6, 3, 10, 10},
		{"zero atr falls back to min", 110, 90, 0, 0.6, 3, 10, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := GridLevelCount(tc.high, tc.low, tc.atr, tc.mult, tc.min, tc.max)
			if got < tc.min || got > tc.max {
				t.Fatalf("level count %d escaped [%d,%d]", got, tc.min, tc.max)
			}
			if got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}
