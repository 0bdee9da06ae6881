package features

import (
	"TickPilot/internal/domain/models"
	domsvc "TickPilot/internal/domain/service"
	"TickPilot/pkg/config"
)

// Pipeline turns a candle series into an IndicatorSnapshot.
type Pipeline struct {
	ind         domsvc.Indicators
	stochPeriod int
	stochSignal int
	bbPeriod    int
	bbStdDev    float64
	emaShort    int
	emaMid      int
	emaLong     int
	rsiPeriod   int
	rsiAlgo     RSIAlgorithm
	bandHistory int
	rsiHistory  int
}

// NewPipeline builds a pipeline from a strategy profile. A nil ind uses go-talib.
func NewPipeline(p config.Profile, ind domsvc.Indicators) *Pipeline {
	if ind == nil {
		ind = Talib{}
	}
	algo, err := ParseRSIAlgorithm(p.Indicators.RSIAlgorithm)
	if err != nil {
		algo = RSIWilder
	}
	c := p.Indicators
	return &Pipeline{
		ind:         ind,
		stochPeriod: c.StochPeriod,
		stochSignal: c.StochSignal,
		bbPeriod:    c.BBPeriod,
		bbStdDev:    c.BBStdDev,
		emaShort:    c.EMAShort,
		emaMid:      c.EMAMid,
		emaLong:     c.EMALong,
		rsiPeriod:   c.RSIPeriod,
		rsiAlgo:     algo,
		bandHistory: c.BandHistory,
		rsiHistory:  c.RSIHistory,
	}
}

// MinCandles is the shortest series for which every indicator has a value.
func (p *Pipeline) MinCandles() int {
	n := p.stochPeriod + p.stochSignal - 1
	for _, v := range []int{p.bbPeriod, p.emaShort, p.emaMid, p.emaLong, p.rsiPeriod + 1} {
		if v > n {
			n = v
		}
	}
	return n
}

// NewHistory returns an empty history sized for this pipeline.
func (p *Pipeline) NewHistory() *History {
	return NewHistory(p.bandHistory, p.rsiHistory)
}

// Compute runs every indicator over candles. ok is false when the series is
// shorter than MinCandles or any indicator is not yet warmed up; the history
// is left untouched in that case. A non-nil h receives this cycle's latest
// band, RSI and close.
func (p *Pipeline) Compute(candles []models.Candle, h *History) (models.IndicatorSnapshot, bool) {
	if len(candles) < p.MinCandles() {
		return models.IndicatorSnapshot{}, false
	}
	closes := models.Closes(candles)
	highs, lows := models.HighsLows(candles)

	stoch := p.ind.Stochastic(highs, lows, closes, p.stochPeriod, p.stochSignal)
	bands := p.ind.BollingerBands(closes, p.bbPeriod, p.bbStdDev)
	short := p.ind.EMA(closes, p.emaShort)
	mid := p.ind.EMA(closes, p.emaMid)
	long := p.ind.EMA(closes, p.emaLong)
	rsi := RSI(closes, p.rsiPeriod, p.rsiAlgo)
	if len(stoch) == 0 || len(bands) == 0 || len(short) == 0 || len(mid) == 0 || len(long) == 0 || len(rsi) == 0 {
		return models.IndicatorSnapshot{}, false
	}

	snap := models.IndicatorSnapshot{
		StochK:   make([]float64, len(stoch)),
		StochD:   make([]float64, len(stoch)),
		Band:     bands[len(bands)-1],
		EMAShort: short[len(short)-1],
		EMAMid:   mid[len(mid)-1],
		EMALong:  long[len(long)-1],
		RSI:      rsi,
		Close:    closes[len(closes)-1],
	}
	for i, sp := range stoch {
		snap.StochK[i] = sp.K
		snap.StochD[i] = sp.D
	}

	if h == nil {
		snap.BandHistory = tailBands(bands, p.bandHistory)
		snap.RSIHistory = tail(rsi, p.rsiHistory)
		snap.CloseHistory = tail(closes, len(snap.BandHistory))
		return snap, true
	}
	h.push(snap.Band, rsi[len(rsi)-1], snap.Close)
	snap.BandHistory = h.Bands()
	snap.RSIHistory = h.RSI()
	snap.CloseHistory = h.Closes()
	return snap, true
}

// History keeps the last few per-cycle values of one account. It is owned by
// the account's session and not safe for concurrent use.
type History struct {
	bands   []models.Band
	rsi     []float64
	closes  []float64
	bandMax int
	rsiMax  int
}

// NewHistory keeps bandMax Bollinger samples (and closes) and rsiMax RSI values.
func NewHistory(bandMax, rsiMax int) *History {
	if bandMax < 2 {
		bandMax = 10
	}
	if rsiMax < 2 {
		rsiMax = 6
	}
	return &History{bandMax: bandMax, rsiMax: rsiMax}
}

func (h *History) push(b models.Band, rsi, c float64) {
	h.bands = append(h.bands, b)
	if len(h.bands) > h.bandMax {
		h.bands = h.bands[len(h.bands)-h.bandMax:]
	}
	h.closes = append(h.closes, c)
	if len(h.closes) > h.bandMax {
		h.closes = h.closes[len(h.closes)-h.bandMax:]
	}
	h.rsi = append(h.rsi, rsi)
	if len(h.rsi) > h.rsiMax {
		h.rsi = h.rsi[len(h.rsi)-h.rsiMax:]
	}
}

// Bands returns a copy of the retained Bollinger samples, oldest first.
func (h *History) Bands() []models.Band {
	out := make([]models.Band, len(h.bands))
	copy(out, h.bands)
	return out
}

// RSI returns a copy of the retained RSI values, oldest first.
func (h *History) RSI() []float64 { return tail(h.rsi, len(h.rsi)) }

// Closes returns a copy of the retained closes, aligned with Bands.
func (h *History) Closes() []float64 { return tail(h.closes, len(h.closes)) }

// Len reports how many cycles are retained.
func (h *History) Len() int { return len(h.bands) }

// Reset drops all retained values.
func (h *History) Reset() {
	h.bands = h.bands[:0]
	h.rsi = h.rsi[:0]
	h.closes = h.closes[:0]
}

func tail(xs []float64, n int) []float64 {
	if n > len(xs) {
		n = len(xs)
	}
	out := make([]float64, n)
	copy(out, xs[len(xs)-n:])
	return out
}

func tailBands(xs []models.Band, n int) []models.Band {
	if n > len(xs) {
		n = len(xs)
	}
	out := make([]models.Band, n)
	copy(out, xs[len(xs)-n:])
	return out
}
