package formulas

import (
	"math"
	"sort"
)

// CalculateSharpeRatio returns the annualized Sharpe ratio of a periodic
// return series, or nil when the series is too short or flat.
//
//	Sharpe = (mean return - periodic risk-free rate) / stddev of returns
//	Annualized: Sharpe * sqrt(periodsPerYear)
func CalculateSharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear float64) *float64 {
	if len(returns) < 2 {
		return nil
	}

	stdDev := StdDev(returns)
	if stdDev == 0 {
		return nil
	}

	periodicRiskFree := riskFreeRate / periodsPerYear
	sharpe := (Mean(returns) - periodicRiskFree) / stdDev * math.Sqrt(periodsPerYear)
	return &sharpe
}

// CalculateSortinoRatio is the Sharpe variant that penalizes only downside
// deviation. Returns nil when there are no negative periods to measure.
func CalculateSortinoRatio(returns []float64, riskFreeRate float64, periodsPerYear float64) *float64 {
	if len(returns) < 2 {
		return nil
	}

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) < 2 {
		return nil
	}

	downsideDev := StdDev(downside)
	if downsideDev == 0 {
		return nil
	}

	periodicRiskFree := riskFreeRate / periodsPerYear
	sortino := (Mean(returns) - periodicRiskFree) / downsideDev * math.Sqrt(periodsPerYear)
	return &sortino
}

// CalculateCalmarRatio returns annualized return divided by the magnitude
// of the maximum drawdown, or nil when the series never draws down.
func CalculateCalmarRatio(returns []float64, periodsPerYear float64) *float64 {
	if len(returns) < 2 {
		return nil
	}

	maxDD := MaxDrawdown(returns)
	if maxDD == 0 {
		return nil
	}

	annualized := Mean(returns) * periodsPerYear
	calmar := annualized / math.Abs(maxDD)
	return &calmar
}

// CVaR returns the empirical Conditional Value at Risk of a return series
// at the given confidence level. The result is the mean loss of the worst
// (1-confidence) tail, expressed as a positive number for losses.
func CVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	losses := make([]float64, len(returns))
	for i, r := range returns {
		losses[i] = -r
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(losses)))

	tail := int(math.Ceil(float64(len(losses)) * (1 - confidence)))
	if tail < 1 {
		tail = 1
	}
	return Mean(losses[:tail])
}
