package pricing

import (
	"math"
	"sort"
)

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// stdDev is the population standard deviation.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sq float64
	for _, v := range values {
		sq += (v - m) * (v - m)
	}
	return math.Sqrt(sq / float64(len(values)))
}

func minMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func weightedAverage(values, weights []float64) float64 {
	if len(values) == 0 || len(values) != len(weights) {
		return 0
	}
	var sum, weightSum float64
	for i, v := range values {
		sum += v * weights[i]
		weightSum += weights[i]
	}
	if weightSum == 0 {
		return mean(values)
	}
	return sum / weightSum
}

// minRelativeSpread floors the peer deviation at a fraction of the larger of
// the peer mean and the scored value, so peers that agree exactly do not turn
// a rounding difference into an outlier.
const minRelativeSpread = 0.05

// looZScores scores each value against the mean and deviation of the other
// values, with the deviation floored by minRelativeSpread.
func looZScores(values []float64) []float64 {
	scores := make([]float64, len(values))
	if len(values) < 3 {
		return scores
	}
	others := make([]float64, 0, len(values)-1)
	for i, v := range values {
		others = others[:0]
		others = append(others, values[:i]...)
		others = append(others, values[i+1:]...)
		m, sd := mean(others), stdDev(others)
		sd = math.Max(sd, minRelativeSpread*math.Max(math.Abs(m), math.Abs(v)))
		if sd > 0 {
			scores[i] = math.Abs(v-m) / sd
		}
	}
	return scores
}
