package qubo

import (
	"context"
	"math"
	"testing"

	"github.com/qfolio/qfolio/internal/config"
	"github.com/qfolio/qfolio/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAnnealerConfig(seed int64) config.AnnealerConfig {
	return config.AnnealerConfig{
		TStart:         10.0,
		TEnd:           0.01,
		Steps:          200,
		Sweeps:         50,
		Reads:          50,
		Seed:           seed,
		CountTolerance: 1,
	}
}

func buildProblem(t *testing.T, alpha domain.AlphaVector, assets []string, rho float64, n int, lambda, penalty float64) *domain.QUBOProblem {
	t.Helper()
	b := NewBuilder(config.QUBOConfig{PenaltyMultiplier: 2.0}, zerolog.New(nil).Level(zerolog.Disabled))
	p, err := b.Build(alpha, uniformCorrelation(assets, rho), domain.RegimeParams{N: n, Lambda: lambda}, penalty)
	require.NoError(t, err)
	return p
}

// bruteForce enumerates all 2^n bit vectors and returns the minimum-energy
// one among those with exactly target bits set.
func bruteForce(p *domain.QUBOProblem, target int) ([]int, float64) {
	n := len(p.Assets)
	var bestBits []int
	bestEnergy := math.Inf(1)
	for mask := 0; mask < 1<<n; mask++ {
		bits := make([]int, n)
		ones := 0
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				bits[i] = 1
				ones++
			}
		}
		if ones != target {
			continue
		}
		if e := Energy(p, bits); e < bestEnergy {
			bestEnergy = e
			bestBits = bits
		}
	}
	return bestBits, bestEnergy
}

func TestSolve_FindsBruteForceOptimum(t *testing.T) {
	assets := []string{"AST0", "AST1", "AST2", "AST3", "AST4"}
	alpha := domain.AlphaVector{
		"AST0": 0.8, "AST1": 0.6, "AST2": -0.2, "AST3": 0.1, "AST4": 0.4,
	}
	p := buildProblem(t, alpha, assets, 0.3, 2, 1.0, 5.0)

	a := NewAnnealer(testAnnealerConfig(42), zerolog.New(nil).Level(zerolog.Disabled))
	sel, err := a.Solve(context.Background(), p)
	require.NoError(t, err)

	sel = Repair(p, sel)
	require.Equal(t, 2, sel.Count())

	wantBits, wantEnergy := bruteForce(p, 2)
	assert.Equal(t, wantBits, sel.Bits)
	assert.InDelta(t, wantEnergy, Energy(p, sel.Bits), 1e-9)
	assert.ElementsMatch(t, []string{"AST0", "AST1"}, sel.Chosen())
}

func TestSolve_CountWithinTolerance(t *testing.T) {
	for _, tc := range []struct {
		name   string
		assets int
		target int
	}{
		{"small universe", 5, 2},
		{"wide universe", 12, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assets := make([]string, tc.assets)
			alpha := domain.AlphaVector{}
			for i := range assets {
				name := string(rune('A' + i))
				assets[i] = name
				alpha[name] = -1.0 + 2.0*float64(i)/float64(tc.assets-1)
			}

			b := NewBuilder(config.QUBOConfig{PenaltyMultiplier: 2.0}, zerolog.New(nil).Level(zerolog.Disabled))
			penalty := b.Penalty(alpha)
			p := buildProblem(t, alpha, assets, 0.2, tc.target, 0.8, penalty)

			a := NewAnnealer(testAnnealerConfig(7), zerolog.New(nil).Level(zerolog.Disabled))
			sel, err := a.Solve(context.Background(), p)
			require.NoError(t, err)

			// Best-of-reads cardinality stays within the tolerance band
			// before repair, and repair closes the gap exactly.
			assert.LessOrEqual(t, absInt(sel.Count()-tc.target), 1)
			repaired := Repair(p, sel)
			assert.Equal(t, tc.target, repaired.Count())
		})
	}
}

func TestSolve_FixedSeedIsDeterministic(t *testing.T) {
	assets := []string{"A", "B", "C", "D", "E", "F"}
	alpha := domain.AlphaVector{"A": 0.5, "B": 0.3, "C": -0.1, "D": 0.7, "E": 0.2, "F": -0.4}
	b := NewBuilder(config.QUBOConfig{PenaltyMultiplier: 2.0}, zerolog.New(nil).Level(zerolog.Disabled))
	p := buildProblem(t, alpha, assets, 0.25, 3, 1.0, b.Penalty(alpha))

	a := NewAnnealer(testAnnealerConfig(99), zerolog.New(nil).Level(zerolog.Disabled))

	first, err := a.Solve(context.Background(), p)
	require.NoError(t, err)
	second, err := a.Solve(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, first.Bits, second.Bits)
	assert.Equal(t, first.Energy, second.Energy)
}

func TestSolve_CancelledContext(t *testing.T) {
	assets := []string{"A", "B", "C"}
	alpha := domain.AlphaVector{"A": 0.1, "B": 0.2, "C": 0.3}
	b := NewBuilder(config.QUBOConfig{PenaltyMultiplier: 2.0}, zerolog.New(nil).Level(zerolog.Disabled))
	p := buildProblem(t, alpha, assets, 0.1, 2, 1.0, b.Penalty(alpha))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewAnnealer(testAnnealerConfig(1), zerolog.New(nil).Level(zerolog.Disabled))
	_, err := a.Solve(ctx, p)
	assert.Error(t, err)
}

func TestRepair_AddsAndRemovesToTarget(t *testing.T) {
	assets := []string{"A", "B", "C", "D"}
	alpha := domain.AlphaVector{"A": 0.9, "B": 0.5, "C": 0.3, "D": 0.1}
	b := NewBuilder(config.QUBOConfig{PenaltyMultiplier: 2.0}, zerolog.New(nil).Level(zerolog.Disabled))
	p := buildProblem(t, alpha, assets, 0.2, 2, 1.0, b.Penalty(alpha))

	under := Repair(p, &domain.Selection{Assets: assets, Bits: []int{1, 0, 0, 0}})
	assert.Equal(t, 2, under.Count())

	over := Repair(p, &domain.Selection{Assets: assets, Bits: []int{1, 1, 1, 1}})
	assert.Equal(t, 2, over.Count())

	exact := Repair(p, &domain.Selection{Assets: assets, Bits: []int{1, 1, 0, 0}})
	assert.Equal(t, []int{1, 1, 0, 0}, exact.Bits)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
