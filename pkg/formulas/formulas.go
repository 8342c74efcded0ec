// Package formulas provides the numeric helpers shared by the scoring
// and allocation code.
package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// Mean returns the arithmetic mean of the values, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation of the values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// CalculateSMA calculates the Simple Moving Average over the last
// `length` closes. Returns nil when there is not enough data.
func CalculateSMA(closes []float64, length int) *float64 {
	if length <= 0 || len(closes) < length {
		return nil
	}

	sma := talib.Sma(closes, length)
	if len(sma) > 0 && !math.IsNaN(sma[len(sma)-1]) {
		result := sma[len(sma)-1]
		return &result
	}

	return nil
}

// PctChange returns the total return over the last `periods` bars:
// close[t] / close[t-periods] - 1. Returns nil with insufficient data
// or a zero base price.
func PctChange(closes []float64, periods int) *float64 {
	if periods <= 0 || len(closes) <= periods {
		return nil
	}
	base := closes[len(closes)-1-periods]
	if base == 0 {
		return nil
	}
	r := closes[len(closes)-1]/base - 1
	return &r
}

// AnnualizedVolatility scales the standard deviation of per-period
// returns by sqrt(periodsPerYear).
func AnnualizedVolatility(returns []float64, periodsPerYear float64) float64 {
	return StdDev(returns) * math.Sqrt(periodsPerYear)
}

// MaxDrawdown returns the worst peak-to-trough decline of the cumulative
// wealth curve implied by the return series. The result is <= 0.
func MaxDrawdown(returns []float64) float64 {
	wealth := 1.0
	peak := 1.0
	maxDD := 0.0
	for _, r := range returns {
		wealth *= 1 + r
		if wealth > peak {
			peak = wealth
		}
		dd := (wealth - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
