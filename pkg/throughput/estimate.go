package throughput

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Strategy selects how the next window's capacity is predicted from history
type Strategy int

const (
	// Mean is the arithmetic mean of all samples
	Mean Strategy = iota
	// Trend weighs sample i (0 oldest) by (i+1)^2
	Trend
	// Regression extrapolates a least-squares line one step past the history
	Regression
	// Recent is the newest sample
	Recent
	// Median is the middle sample, or the mean of the non-zero samples once
	// any sample is zero
	Median
)

var strategyNames = [...]string{"mean", "trend", "regression", "recent", "median"}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
	return strategyNames[s]
}

// ParseStrategy converts a strategy name to its value
func ParseStrategy(name string) (Strategy, error) {
	if name == "" {
		return Mean, nil
	}
	for i, n := range strategyNames {
		if n == name {
			return Strategy(i), nil
		}
	}
	return Mean, fmt.Errorf("unknown estimator %q", name)
}

// Estimate predicts the number of bricks the next window can complete.
// It returns false when the ring holds no samples.
func Estimate(r *Ring, s Strategy) (float64, bool) {
	if r == nil || r.Len() == 0 {
		return 0, false
	}
	values := r.Values()

	switch s {
	case Trend:
		weights := make([]float64, len(values))
		for i := range weights {
			weights[i] = float64((i + 1) * (i + 1))
		}
		return stat.Mean(values, weights), true

	case Regression:
		return regression(values), true

	case Recent:
		return values[len(values)-1], true

	case Median:
		return nonZeroMedian(values), true

	default:
		return stat.Mean(values, nil), true
	}
}

// regression fits value against sample index and evaluates the line at the
// next index. The result never drops below one brick.
func regression(values []float64) float64 {
	n := len(values)
	if n == 1 {
		return max(values[0], 1)
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(xs, values, nil, false)
	return max(alpha+beta*float64(n), 1)
}

// nonZeroMedian is the middle sample when no sample is zero. Once zeros are
// present it falls back to the mean of the non-zero samples, and to zero
// when every sample is zero.
func nonZeroMedian(values []float64) float64 {
	n := len(values)
	zeros := 0
	sum := 0.0
	for _, v := range values {
		if v == 0 {
			zeros++
		} else {
			sum += v
		}
	}

	switch {
	case zeros == n:
		return 0
	case zeros > 0:
		return sum / float64(n-zeros)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted[n/2]
}
