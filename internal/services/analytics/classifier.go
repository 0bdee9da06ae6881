package analytics

import (
	"TickPilot/internal/domain/models"
	domsvc "TickPilot/internal/domain/service"
	"TickPilot/pkg/config"
)

// Classifier labels the market regime from long candles. It remembers the
// previous label so callers can react to transitions.
type Classifier struct {
	ind     domsvc.Indicators
	period  int
	stdDev  float64
	percent float64
	width   float64
	prev    models.Regime
}

func NewClassifier(p config.Profile, ind domsvc.Indicators) *Classifier {
	return &Classifier{
		ind:     ind,
		period:  p.Classifier.Period,
		stdDev:  p.Classifier.StdDev,
		percent: p.Classifier.Percent,
		width:   p.Classifier.Width,
		prev:    models.RegimeUnknown,
	}
}

// Classify computes Bollinger Bands over the long closes and compares the
// last period closes with their own middle band. The result is UNKNOWN while
// fewer than period candles are available. changed reports a transition from
// the previously returned regime.
func (c *Classifier) Classify(long []models.Candle) (regime models.Regime, changed bool) {
	regime = c.classify(long)
	changed = regime != c.prev
	c.prev = regime
	return regime, changed
}

// Current returns the last classified regime.
func (c *Classifier) Current() models.Regime { return c.prev }

// Reset forgets the previous regime.
func (c *Classifier) Reset() { c.prev = models.RegimeUnknown }

func (c *Classifier) classify(long []models.Candle) models.Regime {
	if c.period <= 1 || len(long) < c.period {
		return models.RegimeUnknown
	}
	closes := models.Closes(long)
	bands := c.ind.BollingerBands(closes, c.period, c.stdDev)
	if len(bands) == 0 {
		return models.RegimeUnknown
	}
	n := c.period
	if len(bands) < n {
		n = len(bands)
	}
	// bands[i] is aligned with closes[offset+i]
	offset := len(closes) - len(bands)
	var above, below int
	for i := len(bands) - n; i < len(bands); i++ {
		switch cl := closes[offset+i]; {
		case cl > bands[i].Middle:
			above++
		case cl < bands[i].Middle:
			below++
		}
	}
	directional := float64(above)/float64(n) >= c.percent || float64(below)/float64(n) >= c.percent
	wide := bands[len(bands)-1].Width() > c.width
	switch {
	case directional && wide:
		return models.RegimeTrending
	case directional:
		return models.RegimeSlowTrend
	case wide:
		return models.RegimeHighlyVolatile
	default:
		return models.RegimeSideways
	}
}
