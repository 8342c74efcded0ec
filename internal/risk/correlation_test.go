package risk

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/qfolio/qfolio/internal/config"
	"github.com/qfolio/qfolio/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotFromCloses(closes map[string][]float64) *domain.Snapshot {
	assets := make([]string, 0, len(closes))
	for a := range closes {
		assets = append(assets, a)
	}
	// Deterministic order for matrix indexing in assertions.
	for i := 0; i < len(assets); i++ {
		for j := i + 1; j < len(assets); j++ {
			if assets[j] < assets[i] {
				assets[i], assets[j] = assets[j], assets[i]
			}
		}
	}

	bars := make(map[string][]domain.Candle, len(closes))
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for a, series := range closes {
		cs := make([]domain.Candle, len(series))
		for i, c := range series {
			cs[i] = domain.Candle{Timestamp: ts.Add(time.Duration(i) * time.Hour), Close: c}
		}
		bars[a] = cs
	}
	return domain.NewSnapshot(assets, bars)
}

func TestEstimate_PerfectlyCorrelatedPair(t *testing.T) {
	e := NewEstimator(config.CorrelationConfig{Window: 48}, zerolog.New(nil).Level(zerolog.Disabled))

	// B is a scaled copy of A: identical returns, correlation 1.
	a := []float64{100, 102, 101, 105, 103, 108, 107, 110}
	b := make([]float64, len(a))
	for i, v := range a {
		b[i] = v * 2
	}

	corr, err := e.Estimate(snapshotFromCloses(map[string][]float64{"A": a, "B": b}))
	require.NoError(t, err)

	assert.InDelta(t, 1.0, corr.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, corr.At(1, 1), 1e-12)
	assert.InDelta(t, 1.0, corr.At(0, 1), 1e-9)
}

func TestEstimate_AntiCorrelatedPair(t *testing.T) {
	e := NewEstimator(config.CorrelationConfig{Window: 48}, zerolog.New(nil).Level(zerolog.Disabled))

	// B moves exactly opposite to A in return terms.
	a := []float64{100, 110, 100, 110, 100, 110}
	b := []float64{100, 90.909090909, 100, 90.909090909, 100, 90.909090909}

	corr, err := e.Estimate(snapshotFromCloses(map[string][]float64{"A": a, "B": b}))
	require.NoError(t, err)
	assert.Less(t, corr.At(0, 1), -0.99)
}

func TestEstimate_SymmetricUnitDiagonal(t *testing.T) {
	e := NewEstimator(config.CorrelationConfig{Window: 20}, zerolog.New(nil).Level(zerolog.Disabled))
	rng := rand.New(rand.NewSource(11))

	closes := make(map[string][]float64)
	for _, a := range []string{"A", "B", "C", "D"} {
		series := make([]float64, 60)
		price := 100.0
		for i := range series {
			price *= 1 + rng.NormFloat64()*0.02
			series[i] = price
		}
		closes[a] = series
	}

	corr, err := e.Estimate(snapshotFromCloses(closes))
	require.NoError(t, err)

	n := len(corr.Assets)
	for i := 0; i < n; i++ {
		assert.InDelta(t, 1.0, corr.At(i, i), 1e-12)
		for j := 0; j < n; j++ {
			assert.InDelta(t, corr.At(i, j), corr.At(j, i), 1e-12)
			assert.GreaterOrEqual(t, corr.At(i, j), -1.0-1e-9)
			assert.LessOrEqual(t, corr.At(i, j), 1.0+1e-9)
		}
	}
}

func TestEstimate_ZeroVarianceAssetIsUncorrelated(t *testing.T) {
	e := NewEstimator(config.CorrelationConfig{Window: 48}, zerolog.New(nil).Level(zerolog.Disabled))

	closes := map[string][]float64{
		"A":    {100, 102, 99, 104, 101, 106},
		"FLAT": {50, 50, 50, 50, 50, 50},
	}

	corr, err := e.Estimate(snapshotFromCloses(closes))
	require.NoError(t, err)

	// FLAT has no variance: off-diagonal forced to 0, diagonal to 1.
	assert.InDelta(t, 0.0, corr.At(0, 1), 1e-12)
	assert.InDelta(t, 1.0, corr.At(1, 1), 1e-12)
}

func TestEstimate_InsufficientHistory(t *testing.T) {
	e := NewEstimator(config.CorrelationConfig{Window: 48}, zerolog.New(nil).Level(zerolog.Disabled))

	_, err := e.Estimate(snapshotFromCloses(map[string][]float64{"A": {100, 101}}))
	assert.True(t, errors.Is(err, domain.ErrInsufficientHistory))
}
