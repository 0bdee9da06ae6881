package analytics

import (
	"fmt"
	"time"

	"TickPilot/internal/domain/models"
	"TickPilot/pkg/config"
)

const (
	lineK   = "k"
	lineD   = "d"
	lineAny = "any"
)

// Engine runs the per-regime arm/fire state machine and the optional
// breakout and RSI crossing detectors over one indicator snapshot.
type Engine struct {
	regimes map[models.Regime]config.Thresholds
	armTTL  time.Duration

	breakout      bool
	breakoutWidth float64

	rsiCross bool
	rsiBuy   float64
	rsiSell  float64

	now func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides time.Now, used for arm timestamps and expiry.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an engine from the profile's regime table.
func NewEngine(p config.Profile, opts ...EngineOption) (*Engine, error) {
	table := p.Regimes
	if len(table) == 0 {
		table = config.DefaultRegimes()
	}
	e := &Engine{
		regimes:       make(map[models.Regime]config.Thresholds, len(table)),
		armTTL:        p.ArmTTL,
		breakout:      p.Breakout.Enabled,
		breakoutWidth: p.Breakout.MinBandWidth,
		rsiCross:      p.RSICross.Enabled,
		rsiBuy:        p.RSICross.BuyLevel,
		rsiSell:       p.RSICross.SellLevel,
		now:           time.Now,
	}
	for k, th := range table {
		r, err := models.ParseRegime(k)
		if err != nil {
			return nil, fmt.Errorf("regime table: %w", err)
		}
		if th.Line == "" {
			th.Line = lineD
		}
		e.regimes[r] = th
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Evaluate produces the decision for one cycle and mutates st in place.
// UNKNOWN or unconfigured regimes always hold and leave st untouched.
// When several detectors fire in the same cycle, breakout wins over the
// regime machine, which wins over the RSI crossing.
func (e *Engine) Evaluate(regime models.Regime, snap models.IndicatorSnapshot, st *models.CrossingState) models.Decision {
	now := e.now()
	hold := models.Decision{Signal: models.SignalHold, Source: models.SourceNone, Regime: regime, At: now}
	th, ok := e.regimes[regime]
	if regime == models.RegimeUnknown || !ok {
		return hold
	}
	e.expire(st, now)

	sig := e.step(regime, th, snap, st, now)

	if e.breakout {
		if b := e.detectBreakout(snap); b != models.SignalHold {
			return models.Decision{Signal: b, Source: models.SourceBreakout, Regime: regime, At: now}
		}
	}
	if sig != models.SignalHold {
		return models.Decision{Signal: sig, Source: models.SourceRegime, Regime: regime, At: now}
	}
	if e.rsiCross {
		if r := e.detectRSICross(snap); r != models.SignalHold {
			return models.Decision{Signal: r, Source: models.SourceRSI, Regime: regime, At: now}
		}
	}
	return hold
}

func (e *Engine) expire(st *models.CrossingState, now time.Time) {
	if e.armTTL <= 0 {
		return
	}
	if st.ArmedLow && now.Sub(st.LowAt) > e.armTTL {
		st.ArmedLow = false
		st.LowAt = time.Time{}
	}
	if st.ArmedHigh && now.Sub(st.HighAt) > e.armTTL {
		st.ArmedHigh = false
		st.HighAt = time.Time{}
	}
	if !st.ArmedLow && !st.ArmedHigh {
		st.Condition = ""
	}
}

// step is the two-stage hysteresis. A decision point clears every flag,
// whether or not the confirmations let the signal through.
func (e *Engine) step(regime models.Regime, th config.Thresholds, snap models.IndicatorSnapshot, st *models.CrossingState, now time.Time) models.Signal {
	osc := oscillators(th.Line, snap)
	if len(osc) == 0 {
		return models.SignalHold
	}

	if st.ArmedLow && anyAbove(osc, th.BuyFireAbove) {
		st.Reset()
		if confirmBuy(regime, th, snap) {
			return models.SignalBuy
		}
		return models.SignalHold
	}
	if st.ArmedHigh && anyBelow(osc, th.SellFireBelow) {
		st.Reset()
		if confirmSell(regime, th, snap) {
			return models.SignalSell
		}
		return models.SignalHold
	}

	if anyBelow(osc, th.BuyArmBelow) && !st.ArmedLow {
		st.ArmedLow = true
		st.LowAt = now
		st.Condition = models.SignalBuy
	}
	if anyAbove(osc, th.SellArmAbove) && !st.ArmedHigh {
		st.ArmedHigh = true
		st.HighAt = now
		st.Condition = models.SignalSell
	}
	return models.SignalHold
}

func oscillators(line string, snap models.IndicatorSnapshot) []float64 {
	var out []float64
	if (line == lineK || line == lineAny) && len(snap.StochK) > 0 {
		out = append(out, snap.LastK())
	}
	if (line == lineD || line == lineAny) && len(snap.StochD) > 0 {
		out = append(out, snap.LastD())
	}
	return out
}

func anyAbove(xs []float64, level float64) bool {
	for _, x := range xs {
		if x > level {
			return true
		}
	}
	return false
}

func anyBelow(xs []float64, level float64) bool {
	for _, x := range xs {
		if x < level {
			return true
		}
	}
	return false
}

func confirmBuy(regime models.Regime, th config.Thresholds, snap models.IndicatorSnapshot) bool {
	if th.BuyRSICeiling > 0 {
		cur, prev := snap.LastTwoRSI()
		in := func(v float64) bool { return v < th.BuyRSICeiling && v >= th.BuyRSIFloor }
		if !in(cur) && !in(prev) {
			return false
		}
	}
	if th.RequireEMAOrder && regime.IsTrend() {
		if !(snap.EMAShort > snap.EMAMid && snap.EMAMid > snap.EMALong) {
			return false
		}
	}
	return wideEnough(th.MinBandWidth, snap)
}

func confirmSell(regime models.Regime, th config.Thresholds, snap models.IndicatorSnapshot) bool {
	if th.SellRSICeiling > 0 {
		cur, prev := snap.LastTwoRSI()
		in := func(v float64) bool { return v > th.SellRSIFloor && v <= th.SellRSICeiling }
		if !in(cur) && !in(prev) {
			return false
		}
	}
	if th.RequireEMAOrder && regime.IsTrend() {
		if !(snap.EMAShort < snap.EMAMid && snap.EMAMid < snap.EMALong) {
			return false
		}
	}
	return wideEnough(th.MinBandWidth, snap)
}

func wideEnough(minWidth float64, snap models.IndicatorSnapshot) bool {
	if minWidth <= 0 {
		return true
	}
	cur, prev := snap.LastTwoWidths()
	return cur >= minWidth || prev >= minWidth
}

// detectBreakout fires when the latest close crosses outside its band.
func (e *Engine) detectBreakout(snap models.IndicatorSnapshot) models.Signal {
	bands, closes := snap.BandHistory, snap.CloseHistory
	n := len(bands)
	if n < 2 || len(closes) != n {
		return models.SignalHold
	}
	cur, prev := bands[n-1], bands[n-2]
	if e.breakoutWidth > 0 && cur.Width() < e.breakoutWidth {
		return models.SignalHold
	}
	switch c, pc := closes[n-1], closes[n-2]; {
	case c > cur.Upper && pc <= prev.Upper:
		return models.SignalBuy
	case c < cur.Lower && pc >= prev.Lower:
		return models.SignalSell
	}
	return models.SignalHold
}

// detectRSICross fires when RSI leaves the oversold or overbought level.
func (e *Engine) detectRSICross(snap models.IndicatorSnapshot) models.Signal {
	if len(snap.RSIHistory) < 2 {
		return models.SignalHold
	}
	cur, prev := snap.LastTwoRSI()
	switch {
	case prev < e.rsiBuy && cur >= e.rsiBuy:
		return models.SignalBuy
	case prev > e.rsiSell && cur <= e.rsiSell:
		return models.SignalSell
	}
	return models.SignalHold
}
