package features

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestRSIWilder(t *testing.T) {
	got := RSI([]float64{1, 2, 1, 2, 3}, 3, RSIWilder)
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %d", len(got))
	}
	if !near(got[0], 200.0/3) {
		t.Fatalf("seed rsi %v", got[0])
	}
	if !near(got[1], 100-100/4.5) {
		t.Fatalf("wilder rsi %v", got[1])
	}
}

func TestRSIFast(t *testing.T) {
	got := RSI([]float64{1, 2, 1, 2, 3}, 3, RSIFast)
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %d", len(got))
	}
	if !near(got[0], 200.0/3) {
		t.Fatalf("seed rsi %v", got[0])
	}
	// alpha = 0.375: gain 0.791666, loss 0.208333
	if !near(got[1], 100-100/4.8) {
		t.Fatalf("fast rsi %v", got[1])
	}
}

func TestRSIEdges(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		want   float64
	}{
		{"rising", []float64{1, 2, 3, 4, 5}, 100},
		{"falling", []float64{5, 4, 3, 2, 1}, 0},
		{"flat", []float64{2, 2, 2, 2, 2}, 100},
	}
	for _, tt := range tests {
		for _, algo := range []RSIAlgorithm{RSIWilder, RSIFast} {
			got := RSI(tt.closes, 3, algo)
			if len(got) == 0 || got[len(got)-1] != tt.want {
				t.Fatalf("%s/%s: expected %v, got %v", tt.name, algo, tt.want, got)
			}
		}
	}
}

func TestRSIShortInput(t *testing.T) {
	if got := RSI([]float64{1, 2, 3}, 3, RSIWilder); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if got := RSI(nil, 14, RSIFast); got != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestParseRSIAlgorithm(t *testing.T) {
	if _, err := ParseRSIAlgorithm("fast"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := ParseRSIAlgorithm("sma"); err == nil {
		t.Fatalf("expected error")
	}
}
