package models

// Band is one Bollinger Bands sample.
type Band struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Width returns upper minus lower.
func (b Band) Width() float64 { return b.Upper - b.Lower }

// IndicatorSnapshot is the output of one indicator pipeline run.
// Sequences are ordered oldest first, most recent last.
type IndicatorSnapshot struct {
	StochK   []float64
	StochD   []float64
	Band     Band
	EMAShort float64
	EMAMid   float64
	EMALong  float64
	RSI      []float64
	Close    float64

	// Bounded histories used by "either of the last two" checks.
	BandHistory []Band
	RSIHistory  []float64
	// CloseHistory is aligned with BandHistory.
	CloseHistory []float64
}

// LastK returns the latest %K value.
func (s IndicatorSnapshot) LastK() float64 { return last(s.StochK) }

// LastD returns the latest %D value.
func (s IndicatorSnapshot) LastD() float64 { return last(s.StochD) }

// LastRSI returns the latest RSI value.
func (s IndicatorSnapshot) LastRSI() float64 { return last(s.RSIHistory) }

// LastTwoRSI returns the latest and the previous RSI values. When only one is
// available it is returned twice.
func (s IndicatorSnapshot) LastTwoRSI() (cur, prev float64) {
	return lastTwo(s.RSIHistory)
}

// LastTwoWidths returns the latest and previous Bollinger widths.
func (s IndicatorSnapshot) LastTwoWidths() (cur, prev float64) {
	if len(s.BandHistory) == 0 {
		return s.Band.Width(), s.Band.Width()
	}
	ws := make([]float64, 0, 2)
	for i := len(s.BandHistory) - 1; i >= 0 && len(ws) < 2; i-- {
		ws = append([]float64{s.BandHistory[i].Width()}, ws...)
	}
	return lastTwo(ws)
}

func last(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}

func lastTwo(xs []float64) (float64, float64) {
	switch len(xs) {
	case 0:
		return 0, 0
	case 1:
		return xs[0], xs[0]
	default:
		return xs[len(xs)-1], xs[len(xs)-2]
	}
}
