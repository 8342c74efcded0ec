package qubo

import (
	"errors"
	"testing"

	"github.com/qfolio/qfolio/internal/config"
	"github.com/qfolio/qfolio/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformCorrelation(assets []string, rho float64) *domain.CorrelationMatrix {
	n := len(assets)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		for j := range m[i] {
			if i == j {
				m[i][j] = 1
			} else {
				m[i][j] = rho
			}
		}
	}
	return &domain.CorrelationMatrix{Assets: assets, Rho: m}
}

func TestBuild_ExpansionRules(t *testing.T) {
	b := NewBuilder(config.QUBOConfig{PenaltyMultiplier: 2.0}, zerolog.New(nil).Level(zerolog.Disabled))

	assets := []string{"A", "B", "C"}
	alpha := domain.AlphaVector{"A": 0.8, "B": -0.5, "C": 0.1}
	corr := uniformCorrelation(assets, 0.3)
	params := domain.RegimeParams{N: 2, Lambda: 1.5}
	penalty := 5.0

	p, err := b.Build(alpha, corr, params, penalty)
	require.NoError(t, err)

	// Diagonal: -alpha_i + P(1 - 2n)
	assert.InDelta(t, -0.8+penalty*(1-4), p.Q[0][0], 1e-12)
	assert.InDelta(t, 0.5+penalty*(1-4), p.Q[1][1], 1e-12)

	// Off-diagonal (i<j): lambda*rho + 2P
	assert.InDelta(t, 1.5*0.3+2*penalty, p.Q[0][1], 1e-12)
	assert.InDelta(t, 1.5*0.3+2*penalty, p.Q[1][2], 1e-12)

	// Lower triangle unused.
	assert.Zero(t, p.Q[1][0])
}

func TestBuild_EmptyUniverse(t *testing.T) {
	b := NewBuilder(config.QUBOConfig{PenaltyMultiplier: 2.0}, zerolog.New(nil).Level(zerolog.Disabled))

	assets := []string{"A", "B"}
	alpha := domain.AlphaVector{"A": 0.1, "B": 0.2}
	corr := uniformCorrelation(assets, 0.0)

	_, err := b.Build(alpha, corr, domain.RegimeParams{N: 5, Lambda: 1}, 1.0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmptyUniverse))

	var emptyErr *domain.EmptyUniverseError
	require.True(t, errors.As(err, &emptyErr))
	assert.Equal(t, 2, emptyErr.Universe)
	assert.Equal(t, 5, emptyErr.Target)
}

func TestPenalty_ScalesWithMaxAlpha(t *testing.T) {
	b := NewBuilder(config.QUBOConfig{PenaltyMultiplier: 2.0}, zerolog.New(nil).Level(zerolog.Disabled))

	assert.InDelta(t, 1.6, b.Penalty(domain.AlphaVector{"A": 0.8, "B": -0.3}), 1e-12)
	assert.InDelta(t, 2.0, b.Penalty(domain.AlphaVector{"A": -1.0}), 1e-12)

	// Flat alpha falls back to the bare multiplier.
	assert.InDelta(t, 2.0, b.Penalty(domain.AlphaVector{"A": 0, "B": 0}), 1e-12)
}

func TestEnergy_MatchesHamiltonianOrdering(t *testing.T) {
	// With strong penalty the two-asset states must beat one- and
	// three-asset states regardless of their alpha content.
	b := NewBuilder(config.QUBOConfig{PenaltyMultiplier: 2.0}, zerolog.New(nil).Level(zerolog.Disabled))

	assets := []string{"A", "B", "C", "D"}
	alpha := domain.AlphaVector{"A": 0.9, "B": 0.7, "C": -0.4, "D": 0.2}
	corr := uniformCorrelation(assets, 0.2)
	params := domain.RegimeParams{N: 2, Lambda: 1.0}

	p, err := b.Build(alpha, corr, params, b.Penalty(alpha))
	require.NoError(t, err)

	twoBits := []int{1, 1, 0, 0}
	oneBit := []int{1, 0, 0, 0}
	threeBits := []int{1, 1, 0, 1}

	assert.Less(t, Energy(p, twoBits), Energy(p, oneBit))
	assert.Less(t, Energy(p, twoBits), Energy(p, threeBits))
}
