package models

import "fmt"

// Regime labels the current market behavior.
type Regime string

const (
	RegimeTrending       Regime = "TRENDING"
	RegimeSlowTrend      Regime = "SLOW_TREND"
	RegimeSideways       Regime = "SIDEWAYS"
	RegimeHighlyVolatile Regime = "HIGHLY_VOLATILE"
	RegimeUnknown        Regime = "UNKNOWN"
)

// Regimes lists every regime that can carry a threshold set.
var Regimes = []Regime{RegimeTrending, RegimeSlowTrend, RegimeSideways, RegimeHighlyVolatile}

// ParseRegime converts a config key into a Regime.
func ParseRegime(s string) (Regime, error) {
	r := Regime(s)
	switch r {
	case RegimeTrending, RegimeSlowTrend, RegimeSideways, RegimeHighlyVolatile, RegimeUnknown:
		return r, nil
	default:
		return RegimeUnknown, fmt.Errorf("unknown regime %q", s)
	}
}

// IsTrend reports whether EMA ordering applies to the regime.
func (r Regime) IsTrend() bool {
	return r == RegimeTrending || r == RegimeSlowTrend
}
