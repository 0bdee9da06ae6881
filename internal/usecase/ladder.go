package usecase

// Ladder is the fixed stake progression advanced on losses.
type Ladder struct {
	rungs      []float64
	exhaustion float64
}

// NewLadder copies rungs. exhaustion is the stake used after the last rung
// loses; zero means the first rung.
func NewLadder(rungs []float64, exhaustion float64) Ladder {
	r := make([]float64, len(rungs))
	copy(r, rungs)
	if exhaustion <= 0 && len(r) > 0 {
		exhaustion = r[0]
	}
	return Ladder{rungs: r, exhaustion: exhaustion}
}

// First is the stake a win resets to.
func (l Ladder) First() float64 {
	if len(l.rungs) == 0 {
		return l.exhaustion
	}
	return l.rungs[0]
}

// Next is the stake after a loss at stake. Stakes off the ladder restart at
// the first rung.
func (l Ladder) Next(stake float64) float64 {
	i := l.index(stake)
	switch {
	case i < 0:
		return l.First()
	case i == len(l.rungs)-1:
		return l.exhaustion
	default:
		return l.rungs[i+1]
	}
}

// Exhaustion is the stake used once the ladder is exhausted.
func (l Ladder) Exhaustion() float64 { return l.exhaustion }

// Contains reports whether stake is a rung.
func (l Ladder) Contains(stake float64) bool { return l.index(stake) >= 0 }

func (l Ladder) index(stake float64) int {
	for i, r := range l.rungs {
		if r == stake {
			return i
		}
	}
	return -1
}
