// Package qubo builds and solves the binary asset-selection problem.
//
// The Hamiltonian being minimized is
//
//	H = -Σ alpha_i x_i + lambda Σ_{i<j} rho_ij x_i x_j + P (Σ x_i - n)²
//
// expanded into QUBO coefficients with the constant offset P·n² dropped
// (it does not affect the argmin).
package qubo

import (
	"math"

	"github.com/qfolio/qfolio/internal/config"
	"github.com/qfolio/qfolio/internal/domain"
	"github.com/rs/zerolog"
)

// Builder expands the selection Hamiltonian into a QUBO coefficient
// matrix.
type Builder struct {
	cfg config.QUBOConfig
	log zerolog.Logger
}

// NewBuilder creates a new Hamiltonian builder.
func NewBuilder(cfg config.QUBOConfig, log zerolog.Logger) *Builder {
	return &Builder{
		cfg: cfg,
		log: log.With().Str("component", "hamiltonian").Logger(),
	}
}

// Penalty returns the default constraint strength for an alpha vector:
// the configured multiplier times max|alpha|. The multiplier has to be
// large enough that the cardinality constraint dominates the alpha and
// risk terms; it is a tuning knob validated empirically per universe
// size, not a free parameter.
func (b *Builder) Penalty(alpha domain.AlphaVector) float64 {
	maxAbs := 0.0
	for _, a := range alpha {
		if v := math.Abs(a); v > maxAbs {
			maxAbs = v
		}
	}
	if maxAbs == 0 {
		// Flat alpha vector: fall back to the bare multiplier so the
		// constraint term still exists.
		return b.cfg.PenaltyMultiplier
	}
	return b.cfg.PenaltyMultiplier * maxAbs
}

// Build expands the Hamiltonian for the given alpha vector, correlation
// matrix, regime parameters and constraint strength P. Expansion rules:
//
//	Q[i][i] += -alpha_i + P(1 - 2n)
//	Q[i][j] += lambda·rho_ij + 2P   (i < j)
//
// Fails with EmptyUniverse when fewer eligible assets exist than the
// target portfolio size.
func (b *Builder) Build(alpha domain.AlphaVector, corr *domain.CorrelationMatrix, params domain.RegimeParams, penalty float64) (*domain.QUBOProblem, error) {
	assets := corr.Assets
	n := len(assets)
	if n == 0 || n < params.N {
		return nil, &domain.EmptyUniverseError{Universe: n, Target: params.N}
	}

	q := make([][]float64, n)
	for i := range q {
		q[i] = make([]float64, n)
	}

	target := float64(params.N)
	for i, asset := range assets {
		q[i][i] = -alpha[asset] + penalty*(1-2*target)
		for j := i + 1; j < n; j++ {
			q[i][j] = params.Lambda*corr.At(i, j) + 2*penalty
		}
	}

	b.log.Debug().
		Int("universe", n).
		Int("target_n", params.N).
		Float64("lambda", params.Lambda).
		Float64("penalty", penalty).
		Msg("QUBO Hamiltonian built")

	return &domain.QUBOProblem{
		Assets:  assets,
		Q:       q,
		Penalty: penalty,
		Target:  params.N,
	}, nil
}

// Energy evaluates the QUBO objective for a bit vector:
// Σ Q[i][i]·x_i + Σ_{i<j} Q[i][j]·x_i·x_j.
func Energy(p *domain.QUBOProblem, bits []int) float64 {
	e := 0.0
	for i, xi := range bits {
		if xi == 0 {
			continue
		}
		e += p.Q[i][i]
		for j := i + 1; j < len(bits); j++ {
			if bits[j] == 1 {
				e += p.Q[i][j]
			}
		}
	}
	return e
}
