package usecase

import "testing"

func TestLadderAdvance(t *testing.T) {
	l := NewLadder([]float64{1, 2.7, 7.2, 19.2, 51.2, 136.5, 364}, 1)
	tests := []struct {
		in, want float64
	}{
		{1, 2.7},
		{2.7, 7.2},
		{7.2, 19.2},
		{136.5, 364},
		{364, 1},
		{5, 1},
	}
	for _, tt := range tests {
		if got := l.Next(tt.in); got != tt.want {
			t.Fatalf("next(%v): expected %v, got %v", tt.in, tt.want, got)
		}
	}
	if l.First() != 1 || !l.Contains(19.2) || l.Contains(3) {
		t.Fatalf("unexpected ladder membership")
	}
}

func TestLadderExhaustionStake(t *testing.T) {
	l := NewLadder([]float64{2, 4}, 0)
	if got := l.Next(4); got != 2 {
		t.Fatalf("zero exhaustion falls back to first rung, got %v", got)
	}
	l = NewLadder([]float64{2, 4}, 4)
	if got := l.Next(4); got != 4 {
		t.Fatalf("expected configured exhaustion stake, got %v", got)
	}
}
