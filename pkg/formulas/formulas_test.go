package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
}

func TestStdDev(t *testing.T) {
	assert.Equal(t, 0.0, StdDev([]float64{5}))
	// sample stddev of {2, 4, 4, 4, 5, 5, 7, 9} is ~2.138
	assert.InDelta(t, 2.138, StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 0.001)
	assert.Equal(t, 0.0, StdDev([]float64{3, 3, 3, 3}))
}

func TestCalculateSMA(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}

	sma := CalculateSMA(closes, 3)
	require.NotNil(t, sma)
	assert.InDelta(t, 4.0, *sma, 1e-9)

	assert.Nil(t, CalculateSMA(closes, 6), "not enough data")
	assert.Nil(t, CalculateSMA(closes, 0), "invalid length")
}

func TestPctChange(t *testing.T) {
	closes := []float64{100, 110, 121}

	r := PctChange(closes, 2)
	require.NotNil(t, r)
	assert.InDelta(t, 0.21, *r, 1e-9)

	assert.Nil(t, PctChange(closes, 3), "not enough data")
	assert.Nil(t, PctChange([]float64{0, 100}, 1), "zero base price")
}

func TestAnnualizedVolatility(t *testing.T) {
	returns := []float64{0.01, -0.01, 0.02, -0.02}
	vol := AnnualizedVolatility(returns, 8760)
	assert.Greater(t, vol, 0.0)
	assert.InDelta(t, StdDev(returns)*93.59487165, vol, 1e-6)
}

func TestMaxDrawdown(t *testing.T) {
	// up 10%, down 20%, up 5%: trough at 1.1*0.8 = 0.88 off a 1.1 peak
	dd := MaxDrawdown([]float64{0.10, -0.20, 0.05})
	assert.InDelta(t, -0.20, dd, 1e-9)

	assert.Equal(t, 0.0, MaxDrawdown([]float64{0.01, 0.02, 0.03}), "monotonic rise never draws down")
}

func TestCalculateSharpeRatio(t *testing.T) {
	assert.Nil(t, CalculateSharpeRatio([]float64{0.01}, 0, 8760), "too short")
	assert.Nil(t, CalculateSharpeRatio([]float64{0.01, 0.01, 0.01}, 0, 8760), "flat series")

	sharpe := CalculateSharpeRatio([]float64{0.02, -0.01, 0.03, -0.02, 0.04}, 0, 8760)
	require.NotNil(t, sharpe)
	assert.Greater(t, *sharpe, 0.0, "positive-drift series")
}

func TestCalculateSortinoRatio(t *testing.T) {
	assert.Nil(t, CalculateSortinoRatio([]float64{0.01, 0.02, 0.03}, 0, 8760), "no downside periods")

	sortino := CalculateSortinoRatio([]float64{0.02, -0.01, 0.03, -0.02, 0.04}, 0, 8760)
	require.NotNil(t, sortino)

	sharpe := CalculateSharpeRatio([]float64{0.02, -0.01, 0.03, -0.02, 0.04}, 0, 8760)
	require.NotNil(t, sharpe)
	assert.Greater(t, *sortino, *sharpe, "downside deviation is smaller than total deviation here")
}

func TestCalculateCalmarRatio(t *testing.T) {
	assert.Nil(t, CalculateCalmarRatio([]float64{0.01, 0.02}, 8760), "no drawdown")

	calmar := CalculateCalmarRatio([]float64{0.10, -0.20, 0.05}, 8760)
	require.NotNil(t, calmar)
	mean := Mean([]float64{0.10, -0.20, 0.05})
	assert.InDelta(t, mean*8760/0.20, *calmar, 1e-9)
}

func TestCVaR(t *testing.T) {
	assert.Equal(t, 0.0, CVaR(nil, 0.95))

	// 10 observations at 95% confidence: tail is the single worst loss
	returns := []float64{0.01, 0.02, -0.05, 0.01, 0.03, -0.01, 0.02, 0.01, -0.02, 0.01}
	assert.InDelta(t, 0.05, CVaR(returns, 0.95), 1e-9)

	// at 80% confidence the tail is the two worst losses
	assert.InDelta(t, (0.05+0.02)/2, CVaR(returns, 0.80), 1e-9)
}
