package helpers

import (
	"math"
	"testing"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		q        float64
		expected float64
	}{
		{
			name:     "median of odd set",
			values:   []float64{3, 1, 2},
			q:        0.5,
			expected: 2,
		},
		{
			name:     "median interpolates between ranks",
			values:   []float64{1, 2, 3, 4},
			q:        0.5,
			expected: 2.5,
		},
		{
			name:     "p95 of 1..100",
			values:   seq(1, 100),
			q:        0.95,
			expected: 95.05,
		},
		{
			name:     "empty input",
			values:   nil,
			q:        0.5,
			expected: 0,
		},
		{
			name:     "single value",
			values:   []float64{42},
			q:        0.9,
			expected: 42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentile(tt.values, tt.q)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Percentile(%v, %v) = %v, want %v", tt.values, tt.q, got, tt.expected)
			}
		})
	}
}

func TestRankPercentiles(t *testing.T) {
	// Ties get the average rank of the tied group
	values := []float64{10, 20, 20, 40}
	got := RankPercentiles(values)

	// ranks: 10 -> 1, 20/20 -> (2+3)/2 = 2.5, 40 -> 4; pct = rank/4*100
	expected := []float64{25, 62.5, 62.5, 100}
	for i := range expected {
		if math.Abs(got[i]-expected[i]) > 1e-9 {
			t.Errorf("RankPercentiles[%d] = %v, want %v", i, got[i], expected[i])
		}
	}
}

func TestMinMaxNorm(t *testing.T) {
	if got := MinMaxNorm(5, 0, 10); got != 0.5 {
		t.Errorf("expected 0.5, got %v", got)
	}
	// Degenerate range must not divide by zero
	if got := MinMaxNorm(5, 5, 5); got != 0 {
		t.Errorf("degenerate range: expected 0, got %v", got)
	}
	if got := MinMaxNorm(-1, 0, 10); got != 0 {
		t.Errorf("below range: expected 0, got %v", got)
	}
}

func TestClamp01(t *testing.T) {
	if got := Clamp01(math.NaN()); got != 0 {
		t.Errorf("NaN should clamp to 0, got %v", got)
	}
	if got := Clamp01(1.5); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
	if got := Clamp01(-0.5); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

func TestStdDev(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	got := StdDev(values)
	// Sample stddev of this classic set is ~2.138
	if math.Abs(got-2.13808993) > 1e-6 {
		t.Errorf("StdDev = %v, want ~2.138", got)
	}

	if got := StdDev([]float64{1}); got != 0 {
		t.Errorf("single value stddev should be 0, got %v", got)
	}
}

func seq(from, to int) []float64 {
	out := make([]float64, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, float64(i))
	}
	return out
}
