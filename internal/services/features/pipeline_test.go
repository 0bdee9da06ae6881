package features

import (
	"math"
	"testing"

	"TickPilot/internal/domain/models"
	"TickPilot/pkg/config"
)

func testProfile() config.Profile {
	var p config.Profile
	p.Indicators.StochPeriod = 5
	p.Indicators.StochSignal = 3
	p.Indicators.BBPeriod = 5
	p.Indicators.BBStdDev = 2
	p.Indicators.EMAShort = 2
	p.Indicators.EMAMid = 3
	p.Indicators.EMALong = 4
	p.Indicators.RSIPeriod = 3
	p.Indicators.RSIAlgorithm = "wilder"
	p.Indicators.BandHistory = 3
	p.Indicators.RSIHistory = 2
	return p
}

func rising(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		v := float64(i + 1)
		out[i] = models.Candle{BucketStart: int64(i * 10), Open: v, High: v, Low: v, Close: v}
	}
	return out
}

func TestPipelineMinCandles(t *testing.T) {
	p := NewPipeline(testProfile(), nil)
	if p.MinCandles() != 7 {
		t.Fatalf("expected 7, got %d", p.MinCandles())
	}
	h := p.NewHistory()
	if _, ok := p.Compute(rising(6), h); ok {
		t.Fatalf("expected not ok below minimum")
	}
	if h.Len() != 0 {
		t.Fatalf("history must not change on short input")
	}
	if _, ok := p.Compute(nil, nil); ok {
		t.Fatalf("expected not ok for empty input")
	}
}

func TestPipelineCompute(t *testing.T) {
	p := NewPipeline(testProfile(), nil)
	snap, ok := p.Compute(rising(20), nil)
	if !ok {
		t.Fatalf("expected ok")
	}
	if math.Abs(snap.LastK()-100) > 1e-9 || math.Abs(snap.LastD()-100) > 1e-9 {
		t.Fatalf("expected saturated stochastic, got k=%v d=%v", snap.LastK(), snap.LastD())
	}
	if !(snap.EMAShort > snap.EMAMid && snap.EMAMid > snap.EMALong) {
		t.Fatalf("expected bullish ema order: %v %v %v", snap.EMAShort, snap.EMAMid, snap.EMALong)
	}
	if snap.LastRSI() != 100 {
		t.Fatalf("expected rsi 100, got %v", snap.LastRSI())
	}
	if snap.Close != 20 || math.Abs(snap.Band.Middle-18) > 1e-9 {
		t.Fatalf("unexpected close/middle %v %v", snap.Close, snap.Band.Middle)
	}
	if len(snap.BandHistory) != 3 || len(snap.RSIHistory) != 2 || len(snap.CloseHistory) != 3 {
		t.Fatalf("unexpected history sizes %d %d %d", len(snap.BandHistory), len(snap.RSIHistory), len(snap.CloseHistory))
	}
}

func TestPipelineHistoryBounded(t *testing.T) {
	p := NewPipeline(testProfile(), nil)
	h := p.NewHistory()
	candles := rising(10)
	for i := 0; i < 5; i++ {
		candles = append(candles, rising(len(candles) + 1)[len(candles)])
		if _, ok := p.Compute(candles, h); !ok {
			t.Fatalf("cycle %d: expected ok", i)
		}
	}
	if h.Len() != 3 || len(h.RSI()) != 2 {
		t.Fatalf("unexpected history %d %d", h.Len(), len(h.RSI()))
	}
	closes := h.Closes()
	if closes[len(closes)-1] != 15 || closes[0] != 13 {
		t.Fatalf("unexpected closes %v", closes)
	}
	h.Reset()
	if h.Len() != 0 {
		t.Fatalf("expected empty history")
	}
}

func TestTalibEMAConstant(t *testing.T) {
	got := Talib{}.EMA([]float64{3, 3, 3, 3, 3}, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 values, got %d", len(got))
	}
	for _, v := range got {
		if math.Abs(v-3) > 1e-9 {
			t.Fatalf("expected 3, got %v", v)
		}
	}
	if (Talib{}).EMA([]float64{1}, 3) != nil {
		t.Fatalf("expected nil for short input")
	}
}
