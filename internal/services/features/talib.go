package features

import (
	talib "github.com/markcheno/go-talib"

	"TickPilot/internal/domain/models"
	domsvc "TickPilot/internal/domain/service"
)

// Talib adapts github.com/markcheno/go-talib to domsvc.Indicators. The library
// returns full-length outputs padded with zeros during warm-up; the adapter
// trims that lookback.
type Talib struct{}

// Stochastic is the slow-D stochastic: raw %K over period, %D = SMA(%K, signal).
func (Talib) Stochastic(high, low, close []float64, period, signalPeriod int) []domsvc.StochPoint {
	lookback := (period - 1) + (signalPeriod - 1)
	if period <= 0 || signalPeriod <= 0 || len(close) <= lookback ||
		len(high) != len(close) || len(low) != len(close) {
		return nil
	}
	k, d := talib.Stoch(high, low, close, period, 1, talib.SMA, signalPeriod, talib.SMA)
	out := make([]domsvc.StochPoint, 0, len(close)-lookback)
	for i := lookback; i < len(close); i++ {
		out = append(out, domsvc.StochPoint{K: k[i], D: d[i]})
	}
	return out
}

func (Talib) BollingerBands(values []float64, period int, stdDev float64) []models.Band {
	if period <= 1 || len(values) < period {
		return nil
	}
	upper, middle, lower := talib.BBands(values, period, stdDev, stdDev, talib.SMA)
	out := make([]models.Band, 0, len(values)-period+1)
	for i := period - 1; i < len(values); i++ {
		out = append(out, models.Band{Upper: upper[i], Middle: middle[i], Lower: lower[i]})
	}
	return out
}

func (Talib) EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	ema := talib.Ema(values, period)
	out := make([]float64, len(values)-period+1)
	copy(out, ema[period-1:])
	return out
}

var _ domsvc.Indicators = Talib{}
