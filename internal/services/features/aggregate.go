package features

import "TickPilot/internal/domain/models"

// Aggregate groups ticks into OHLC candles of width seconds. Ticks are taken
// in the order given; open is the first price of a bucket and close the last.
// Empty buckets are skipped, not filled.
func Aggregate(ticks []models.Tick, width int64) []models.Candle {
	if len(ticks) == 0 || width <= 0 {
		return nil
	}
	out := make([]models.Candle, 0, 64)
	index := make(map[int64]int)
	for _, t := range ticks {
		key := floorDiv(t.Epoch, width) * width
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, models.Candle{BucketStart: key, Open: t.Quote, High: t.Quote, Low: t.Quote, Close: t.Quote})
			continue
		}
		c := &out[i]
		if t.Quote > c.High {
			c.High = t.Quote
		}
		if t.Quote < c.Low {
			c.Low = t.Quote
		}
		c.Close = t.Quote
	}
	return out
}

// floorDiv rounds toward negative infinity so pre-1970 epochs bucket correctly.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
