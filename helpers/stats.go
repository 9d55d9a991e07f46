package helpers

import (
	"math"
	"sort"
)

// Percentile returns the q-th quantile (q in [0,1]) of values using linear
// interpolation between closest ranks, matching the behavior of
// pandas/numpy default quantile. Returns 0 for an empty input.
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}

	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// RankPercentiles returns each value's rank-based percentile (0-100) within
// the full slice. Ties receive the average rank of the tied group, the same
// convention as pandas rank(pct=true).
func RankPercentiles(values []float64) []float64 {
	n := len(values)
	if n == 0 {
		return nil
	}

	type indexed struct {
		value float64
		index int
	}
	order := make([]indexed, n)
	for i, v := range values {
		order[i] = indexed{value: v, index: i}
	}
	sort.Slice(order, func(i, j int) bool { return order[i].value < order[j].value })

	result := make([]float64, n)
	i := 0
	for i < n {
		// Find the tied group [i, j)
		j := i + 1
		for j < n && order[j].value == order[i].value {
			j++
		}
		// Average rank of the group, 1-based
		avgRank := float64(i+j+1) / 2.0
		pct := avgRank / float64(n) * 100
		for k := i; k < j; k++ {
			result[order[k].index] = pct
		}
		i = j
	}

	return result
}

// MinMaxNorm normalizes value into [0,1] over the [min, max] range.
// A degenerate range (max == min) yields 0 rather than dividing by zero.
func MinMaxNorm(value, min, max float64) float64 {
	if max <= min {
		return 0
	}
	norm := (value - min) / (max - min)
	return Clamp01(norm)
}

// Clamp01 clamps v to the [0,1] interval. NaN is treated as 0 so a missing
// signal contributes nothing instead of poisoning a weighted sum.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation, or 0 when fewer than two
// values are present.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
