package models

// Tick is a single price update from the venue feed.
type Tick struct {
	Epoch int64   `json:"epoch"` // seconds
	Quote float64 `json:"quote"`
}

// Candle represents an OHLC summary of the ticks inside one bucket.
type Candle struct {
	BucketStart int64 // seconds, aligned to the bucket width
	Open        float64
	High        float64
	Low         float64
	Close       float64
}

// Closes extracts close prices in order.
func Closes(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// HighsLows extracts high and low prices in order.
func HighsLows(cs []Candle) (highs, lows []float64) {
	highs = make([]float64, len(cs))
	lows = make([]float64, len(cs))
	for i, c := range cs {
		highs[i] = c.High
		lows[i] = c.Low
	}
	return highs, lows
}
