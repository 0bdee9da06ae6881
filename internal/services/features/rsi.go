package features

import "fmt"

// RSIAlgorithm selects the smoothing used for average gain and loss.
type RSIAlgorithm string

const (
	// RSIWilder is the classic recursive smoothing avg = (avg*(n-1)+x)/n.
	RSIWilder RSIAlgorithm = "wilder"
	// RSIFast smooths with alpha = 1.5/(n+1), a more reactive variant.
	RSIFast RSIAlgorithm = "fast"
)

// ParseRSIAlgorithm validates a configured algorithm name.
func ParseRSIAlgorithm(s string) (RSIAlgorithm, error) {
	switch RSIAlgorithm(s) {
	case RSIWilder, RSIFast:
		return RSIAlgorithm(s), nil
	}
	return "", fmt.Errorf("unknown rsi algorithm %q", s)
}

// RSI returns one value per close starting at index period, oldest first.
// It returns nil when there are not more than period closes.
//
// Both algorithms seed the averages with the simple mean of the first period
// gains and losses; they differ only in the recursive step.
func RSI(closes []float64, period int, algo RSIAlgorithm) []float64 {
	if period <= 0 || len(closes) <= period {
		return nil
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		g, l := split(closes[i] - closes[i-1])
		gain += g
		loss += l
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	out := make([]float64, 0, len(closes)-period)
	out = append(out, rsiValue(avgGain, avgLoss))

	n := float64(period)
	alpha := 1.5 / (n + 1)
	for i := period + 1; i < len(closes); i++ {
		g, l := split(closes[i] - closes[i-1])
		switch algo {
		case RSIFast:
			avgGain = alpha*g + (1-alpha)*avgGain
			avgLoss = alpha*l + (1-alpha)*avgLoss
		default:
			avgGain = (avgGain*(n-1) + g) / n
			avgLoss = (avgLoss*(n-1) + l) / n
		}
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	if avgGain == 0 {
		return 0
	}
	return 100 - 100/(1+avgGain/avgLoss)
}
